package registry

// AreaRef is an area with lazy traversal to its devices and entities.
type AreaRef struct {
	Area
	r *Registry
}

// DeviceRef is a device with lazy traversal to its area and entities.
type DeviceRef struct {
	Device
	r *Registry
}

// EntityRef is an entity with lazy traversal to its device and area.
type EntityRef struct {
	Entity
	r *Registry
}

// GetArea returns the area with id.
func (r *Registry) GetArea(id string) (AreaRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.areas[id]
	if !ok {
		return AreaRef{}, false
	}
	return AreaRef{Area: a, r: r}, true
}

// GetDevice returns the device with id.
func (r *Registry) GetDevice(id string) (DeviceRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return DeviceRef{}, false
	}
	return DeviceRef{Device: d, r: r}, true
}

// GetEntity returns the entity with id.
func (r *Registry) GetEntity(id string) (EntityRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[id]
	if !ok {
		return EntityRef{}, false
	}
	return EntityRef{Entity: *e, r: r}, true
}

// GetAreas returns the areas matching f, keyed by id.
func (r *Registry) GetAreas(f Filter) map[string]AreaRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]AreaRef)
	for id, a := range r.areas {
		if f.match(a.fields()) {
			out[id] = AreaRef{Area: a, r: r}
		}
	}
	return out
}

// GetDevices returns the devices matching f, keyed by id.
func (r *Registry) GetDevices(f Filter) map[string]DeviceRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]DeviceRef)
	for id, d := range r.devices {
		if f.match(d.fields()) {
			out[id] = DeviceRef{Device: d, r: r}
		}
	}
	return out
}

// GetEntities returns the entities matching f, keyed by id.
func (r *Registry) GetEntities(f Filter) map[string]EntityRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]EntityRef)
	for id, e := range r.entities {
		if f.match(e.fields()) {
			out[id] = EntityRef{Entity: *e, r: r}
		}
	}
	return out
}

// GetState returns the joined state of an entity.
func (r *Registry) GetState(entityID string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[entityID]
	if !ok {
		return nil, false
	}
	return r.joinLocked(s), true
}

// GetStates returns the joined states matching f.
func (r *Registry) GetStates(f Filter) []*State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*State
	for _, s := range r.states {
		joined := r.joinLocked(s)
		if MatchesFilter(joined, f) {
			out = append(out, joined)
		}
	}
	return out
}

// Config returns the hub's core configuration.
func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// joinLocked copies s and fills the device and area fields. Caller holds mu.
func (r *Registry) joinLocked(s *State) *State {
	if s == nil {
		return nil
	}

	out := *s
	out.DeviceID, out.AreaID, out.DeviceName, out.AreaName = "", "", "", ""

	e, ok := r.entities[s.EntityID]
	if !ok || e.DeviceID == "" {
		return &out
	}
	out.DeviceID = e.DeviceID

	d, ok := r.devices[e.DeviceID]
	if !ok {
		return &out
	}
	out.DeviceName = d.Name
	out.AreaID = d.AreaID

	if a, ok := r.areas[d.AreaID]; ok {
		out.AreaName = a.Name
	}
	return &out
}

// Device resolves the entity's device.
func (e EntityRef) Device() (DeviceRef, bool) {
	if e.r == nil || e.DeviceID == "" {
		return DeviceRef{}, false
	}
	return e.r.GetDevice(e.DeviceID)
}

// Area resolves the entity's area through its device.
func (e EntityRef) Area() (AreaRef, bool) {
	d, ok := e.Device()
	if !ok {
		return AreaRef{}, false
	}
	return d.Area()
}

// Area resolves the device's area.
func (d DeviceRef) Area() (AreaRef, bool) {
	if d.r == nil || d.AreaID == "" {
		return AreaRef{}, false
	}
	return d.r.GetArea(d.AreaID)
}

// Entities returns the device's entities matching f.
func (d DeviceRef) Entities(f Filter) map[string]EntityRef {
	if d.r == nil {
		return nil
	}
	return d.r.GetEntities(with(f, "deviceId", Exact(d.ID)))
}

// Devices returns the area's devices matching f.
func (a AreaRef) Devices(f Filter) map[string]DeviceRef {
	if a.r == nil {
		return nil
	}
	return a.r.GetDevices(with(f, "areaId", Exact(a.ID)))
}

// Entities returns the entities of the area's devices matching f.
func (a AreaRef) Entities(f Filter) map[string]EntityRef {
	if a.r == nil {
		return nil
	}
	devices := a.Devices(nil)
	inArea := Predicate(func(v any) bool {
		id, _ := v.(string)
		_, ok := devices[id]
		return ok
	})
	return a.r.GetEntities(with(f, "deviceId", inArea))
}

// with returns a copy of f with one more clause.
func with(f Filter, field string, m Matcher) Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[field] = m
	return out
}
