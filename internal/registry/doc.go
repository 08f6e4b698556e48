// Package registry mirrors the hub's areas, devices, entities, states and
// core configuration in memory.
//
// On every (re)connect the registry pulls all five bulk lists in parallel
// and swaps them in together, then replaces its event subscriptions with a
// fresh set on the new connection. Afterwards:
//   - state_changed events update one entity's state fields in place
//   - area, device, entity and core config update events are debounced per
//     topic and rebuild only that topic
//
// Reads are served from the cache and never touch the hub. Relations are
// resolved by id at call time, so a dangling reference is simply not found.
//
// # Filters
//
// Queries take a Filter, a map from field name to Matcher. Every clause
// must match:
//
//	valves := reg.GetStates(registry.Filter{
//	    "entity_id":  registry.Pattern(regexp.MustCompile(`^switch\..*valve`)),
//	    "attributes": registry.Nested(registry.Filter{"device_class": registry.Exact("water")}),
//	})
//
// Writes (CallService, UpdateEntity, DeleteEntity) go straight to the hub;
// the cache catches up through the resulting events.
package registry
