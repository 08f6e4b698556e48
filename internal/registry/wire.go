package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// decodeEventData decodes a loosely typed event data map into out.
// Timestamps arrive as RFC 3339 strings.
func decodeEventData(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("decoding event data: %w", err)
	}
	return nil
}

func decodeList[T any](raw json.RawMessage) ([]T, error) {
	var out []T
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeJSON treats an empty result as an empty value.
func decodeJSON(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func buildAreas(payload []areaPayload) map[string]Area {
	out := make(map[string]Area, len(payload))
	for _, a := range payload {
		out[a.AreaID] = Area{ID: a.AreaID, Name: a.Name}
	}
	return out
}

func buildDevices(payload []devicePayload) map[string]Device {
	out := make(map[string]Device, len(payload))
	for _, d := range payload {
		name := d.NameByUser
		if name == "" {
			name = d.Name
		}
		out[d.ID] = Device{ID: d.ID, Name: name, AreaID: d.AreaID}
	}
	return out
}

func buildStates(payload []State) map[string]*State {
	out := make(map[string]*State, len(payload))
	for i := range payload {
		s := payload[i]
		out[s.EntityID] = &s
	}
	return out
}

// buildEntities joins registry metadata with the current states. Entities
// without a state keep an empty State.
func buildEntities(payload []entityPayload, states map[string]*State) map[string]*Entity {
	out := make(map[string]*Entity, len(payload))
	for _, p := range payload {
		name := p.Name
		if name == "" {
			name = p.OriginalName
		}
		e := &Entity{ID: p.EntityID, Name: name, DeviceID: p.DeviceID}
		applyState(e, states[p.EntityID])
		out[p.EntityID] = e
	}
	return out
}

// applyState copies the state-derived fields onto e. Name and device are
// left alone; they only change through a rebuild.
func applyState(e *Entity, s *State) {
	if s == nil {
		e.State = ""
		e.StateClass = ""
		e.DeviceClass = ""
		return
	}
	e.State = s.State
	e.StateClass = s.Attribute("state_class")
	e.DeviceClass = s.Attribute("device_class")
	e.LastChanged = s.LastChanged
	e.LastUpdated = s.LastUpdated
}
