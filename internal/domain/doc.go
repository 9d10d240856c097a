// Package domain defines the core relay types and interfaces.
//
// Concept-oriented files (errors.go, mode.go, store.go) with shared types and the contracts the
// adapters implement. No I/O here. Interfaces live on the consumer side to avoid circular imports.
package domain
