package notification

import "time"

// Override adjusts the handling of one event kind on top of the
// built-in catalog. Zero fields keep the catalog defaults.
type Override struct {
	Strategy Strategy
	MaxDelay time.Duration
}

// Registry resolves per-type strategies and coalescing windows with
// configuration overrides applied. Producer and dispatcher share one
// instance so routing and handling always agree.
type Registry struct {
	overrides map[Type]Override
}

// NewRegistry builds a registry. Overrides for unknown types are
// dropped; callers validate type names before constructing the map.
func NewRegistry(overrides map[Type]Override) *Registry {
	r := &Registry{overrides: make(map[Type]Override, len(overrides))}
	for t, o := range overrides {
		if t.Valid() {
			r.overrides[t] = o
		}
	}
	return r
}

// Strategy returns the effective strategy for t.
func (r *Registry) Strategy(t Type) Strategy {
	if o, ok := r.overrides[t]; ok && o.Strategy != "" {
		return o.Strategy
	}
	return t.Strategy()
}

// MaxDelay returns the effective coalescing window for t.
func (r *Registry) MaxDelay(t Type) time.Duration {
	if o, ok := r.overrides[t]; ok && o.MaxDelay > 0 {
		return o.MaxDelay
	}
	return t.MaxDelay()
}

// RoutingKey computes the publish routing key,
// notification.<strategy>.<TYPE>, with overrides applied. A type with
// no strategy falls back to notification.<TYPE>, which matches no
// binding.
func (r *Registry) RoutingKey(t Type) string {
	return routingKey(r.Strategy(t), t)
}

// BatchTypes returns the kinds whose effective strategy is BATCH.
func (r *Registry) BatchTypes() []Type {
	var out []Type
	for _, t := range Types() {
		if r.Strategy(t) == StrategyBatch {
			out = append(out, t)
		}
	}
	return out
}

// RoutingKey computes the default routing key for t without overrides.
func (t Type) RoutingKey() string {
	return routingKey(t.Strategy(), t)
}

func routingKey(s Strategy, t Type) string {
	if s == "" {
		return "notification." + string(t)
	}
	return "notification." + s.Token() + "." + string(t)
}
