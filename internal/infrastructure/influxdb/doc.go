// Package influxdb stores companion time series in InfluxDB v2.
//
// Three measurements are written:
//
//	hydro           daily evaporation, precipitation and temperature range
//	irrigation_run  seconds a valve was opened, tagged by entity_id
//	entity_state    numeric entity states, tagged by entity_id, domain, unit
//
// InfluxDB is optional. Connect returns ErrDisabled when it is switched
// off, and callers keep running without it.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteIrrigationRun("switch.garden_valve", 210, time.Now())
//
// Writes go through the library's non-blocking batched write API, sized by
// batch_size and flush_interval.
package influxdb
