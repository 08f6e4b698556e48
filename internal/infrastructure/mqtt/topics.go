package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots. Everything the companion publishes or listens on lives
// under TopicPrefix.
const (
	TopicPrefix = "companion"

	topicState    = TopicPrefix + "/state"
	topicRegistry = TopicPrefix + "/registry"
	topicCommand  = TopicPrefix + "/command"
	topicSystem   = TopicPrefix + "/system"
)

// Topics builds companion MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.EntityState("switch.garden_valve")
//	// companion/state/switch.garden_valve
type Topics struct{}

// EntityState is the retained state topic of one entity.
//
// Example: companion/state/sensor.outdoor_temperature
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/%s", topicState, sanitizeLevel(entityID))
}

// RegistryEvent is the topic registry change notifications go to.
//
// Example: companion/registry/entity_registry_updated
func (Topics) RegistryEvent(topic string) string {
	return fmt.Sprintf("%s/%s", topicRegistry, sanitizeLevel(topic))
}

// IrrigationCheck is the command topic that requests an irrigation pass.
//
// Example: companion/command/irrigation/check
func (Topics) IrrigationCheck() string {
	return topicCommand + "/irrigation/check"
}

// SystemStatus carries the companion's online/offline status and the
// broker's last will.
//
// Example: companion/system/status
func (Topics) SystemStatus() string {
	return topicSystem + "/status"
}

// HubStatus carries whether the shared hub connection is up.
//
// Example: companion/system/hub
func (Topics) HubStatus() string {
	return topicSystem + "/hub"
}

// AllEntityStates matches every entity state topic.
//
// Pattern: companion/state/+
func (Topics) AllEntityStates() string {
	return topicState + "/+"
}

// AllCommands matches every command topic.
//
// Pattern: companion/command/#
func (Topics) AllCommands() string {
	return topicCommand + "/#"
}

// sanitizeLevel keeps an identifier inside one topic level.
func sanitizeLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
