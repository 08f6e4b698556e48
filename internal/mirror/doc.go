// Package mirror republishes the registry to MQTT and InfluxDB.
//
// Entity states go to companion/state/<entity_id> as retained JSON (the
// joined state, including device and area names). A removed state clears
// its retained topic. Area, device, entity and config changes are
// announced on companion/registry/<topic>. Numeric states are also
// written to InfluxDB's entity_state measurement when a StateWriter is set.
// The hub connection's availability is kept retained on companion/system/hub.
//
// Publishing failures are logged and counted; they never reach the
// registry.
package mirror
