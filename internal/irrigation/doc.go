// Package irrigation decides when garden valves open and for how long.
//
// Each valve keeps a soil water balance over a sliding window:
//
//	level = past hydro + past irrigation + future hydro
//
// Past hydro is precipitation minus evaporation for the observed days
// before today, read from the stored hydro history. Past irrigation is
// what the valve itself delivered, derived from its on/off history. Future
// hydro comes from the hub's daily weather forecasts for the overshoot
// days, with evaporation estimated by HargreavesSamani; of several forecast
// sources the most pessimistic one is used.
//
// A valve opens when the level is negative, every forecast day is at least
// as warm as its minimal temperature and the history covers the whole
// window. It then runs for ceil(-level / volume per minute × 60) seconds.
//
// The Controller runs check passes on valve-off events, on forecast updates
// (when enabled), on a hub custom event and on an MQTT command topic. Only
// one valve runs at a time. A periodic tick turns off valves whose time is
// up, independent of the hub's own automations.
//
// All math is done in millimeters and Kelvin. Operator-facing payloads are
// converted back to the units the operator configured.
package irrigation
