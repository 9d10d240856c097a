// Package app sits between the relay and the value store backends.
//
// GuardedStore decorates any domain.ValueStore with metrics, a circuit breaker and
// collapsed last-value lookups. StatsTicker periodically logs relay occupancy.
package app
