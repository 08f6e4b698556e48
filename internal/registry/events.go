package registry

// EventKind identifies a registry notification.
type EventKind int

const (
	// EventStateUpdated carries the joined state of one entity.
	EventStateUpdated EventKind = iota + 1
	EventAreasUpdated
	EventDevicesUpdated
	EventEntitiesUpdated
	EventConfigUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventStateUpdated:
		return "state_updated"
	case EventAreasUpdated:
		return "areas_updated"
	case EventDevicesUpdated:
		return "devices_updated"
	case EventEntitiesUpdated:
		return "entities_updated"
	case EventConfigUpdated:
		return "config_updated"
	default:
		return "unknown"
	}
}

// Topic returns the registry topic an event kind reports on.
func (k EventKind) Topic() Topic {
	switch k {
	case EventAreasUpdated:
		return TopicArea
	case EventDevicesUpdated:
		return TopicDevice
	case EventEntitiesUpdated:
		return TopicEntity
	case EventConfigUpdated:
		return TopicConfig
	default:
		return TopicState
	}
}

// Event is a registry notification.
type Event struct {
	Kind EventKind

	// ID is the entity, device or area id named by the hub event, if any.
	ID string

	// State is the joined new state for EventStateUpdated; nil when the
	// entity's state was removed.
	State *State
}

type eventHandler struct {
	kinds map[EventKind]bool
	fn    func(Event)
}

func topicEventKind(t Topic) EventKind {
	switch t {
	case TopicArea:
		return EventAreasUpdated
	case TopicDevice:
		return EventDevicesUpdated
	case TopicEntity:
		return EventEntitiesUpdated
	case TopicConfig:
		return EventConfigUpdated
	default:
		return EventStateUpdated
	}
}

// On registers fn for the given kinds, or for every kind when none are
// given. The returned function removes the registration.
func (r *Registry) On(fn func(Event), kinds ...EventKind) func() {
	h := eventHandler{fn: fn}
	if len(kinds) > 0 {
		h.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			h.kinds[k] = true
		}
	}

	r.handlerMu.Lock()
	r.nextHandler++
	id := r.nextHandler
	r.handlers[id] = h
	r.handlerMu.Unlock()

	return func() {
		r.handlerMu.Lock()
		delete(r.handlers, id)
		r.handlerMu.Unlock()
	}
}

func (r *Registry) emit(ev Event) {
	r.handlerMu.RLock()
	fns := make([]func(Event), 0, len(r.handlers))
	for _, h := range r.handlers {
		if h.kinds == nil || h.kinds[ev.Kind] {
			fns = append(fns, h.fn)
		}
	}
	r.handlerMu.RUnlock()

	for _, fn := range fns {
		r.safeCall(ev, fn)
	}
}

func (r *Registry) safeCall(ev Event, fn func(Event)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("registry event handler panicked", "kind", ev.Kind.String(), "panic", rec)
		}
	}()
	fn(ev)
}
