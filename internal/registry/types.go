package registry

import "time"

// Area is a room or zone on the hub.
type Area struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Device groups entities. AreaID is empty when unassigned.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	AreaID string `json:"areaId,omitempty"`
}

// Entity is the registry metadata of an entity joined with its current
// state. Empty strings stand for absent values.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DeviceID    string    `json:"deviceId,omitempty"`
	DeviceClass string    `json:"deviceClass,omitempty"`
	StateClass  string    `json:"stateClass,omitempty"`
	State       string    `json:"state,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
	LastChanged time.Time `json:"lastChanged"`
}

// State is a hub state snapshot. The join fields are filled from the
// registry when the state is handed out.
type State struct {
	EntityID    string         `json:"entity_id" mapstructure:"entity_id"`
	State       string         `json:"state" mapstructure:"state"`
	Attributes  map[string]any `json:"attributes" mapstructure:"attributes"`
	LastChanged time.Time      `json:"last_changed" mapstructure:"last_changed"`
	LastUpdated time.Time      `json:"last_updated" mapstructure:"last_updated"`

	DeviceID   string `json:"deviceId,omitempty" mapstructure:"-"`
	AreaID     string `json:"areaId,omitempty" mapstructure:"-"`
	DeviceName string `json:"deviceName,omitempty" mapstructure:"-"`
	AreaName   string `json:"areaName,omitempty" mapstructure:"-"`
}

// Attribute returns the attribute as a string, or "" when absent or not a string.
func (s *State) Attribute(name string) string {
	if s == nil {
		return ""
	}
	v, _ := s.Attributes[name].(string)
	return v
}

// Config is the hub's core configuration.
type Config struct {
	Latitude     float64           `json:"latitude"`
	Longitude    float64           `json:"longitude"`
	Elevation    float64           `json:"elevation"`
	TimeZone     string            `json:"time_zone"`
	LocationName string            `json:"location_name"`
	UnitSystem   map[string]string `json:"unit_system"`
}

// Target selects what a service call acts on.
type Target struct {
	EntityID []string `json:"entity_id,omitempty"`
	DeviceID []string `json:"device_id,omitempty"`
	AreaID   []string `json:"area_id,omitempty"`
}

// ServiceCall holds the optional parts of a call_service request.
type ServiceCall struct {
	Data           map[string]any
	Target         *Target
	ReturnResponse bool
}

// Wire shapes of the bulk list calls.

type areaPayload struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

type devicePayload struct {
	ID         string `json:"id"`
	AreaID     string `json:"area_id"`
	Name       string `json:"name"`
	NameByUser string `json:"name_by_user"`
}

type entityPayload struct {
	EntityID     string `json:"entity_id"`
	DeviceID     string `json:"device_id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
}

// stateChanged is the data of a state_changed event.
type stateChanged struct {
	EntityID string `mapstructure:"entity_id"`
	NewState *State `mapstructure:"new_state"`
	OldState *State `mapstructure:"old_state"`
}
