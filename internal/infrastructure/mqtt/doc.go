// Package mqtt connects the companion to an MQTT broker.
//
// The broker is an optional side channel: the mirror publishes retained
// entity states and registry changes, and the irrigation controller
// listens on a command topic for check requests.
//
//	companion/state/<entity_id>         retained entity state (JSON)
//	companion/registry/<topic>          registry change notifications
//	companion/command/irrigation/check  request an irrigation pass
//	companion/system/status             online/offline, last will
//
// Reconnects are handled by paho; subscriptions made through Subscribe
// are restored after each reconnect. Handlers run on paho goroutines with
// panics recovered.
//
// Tests that need a broker at 127.0.0.1:1883 carry the integration build tag.
package mqtt
