// Package domain defines core data models and interfaces shared across the
// subsystem. It contains plain types (wire/state) and contracts (interfaces)
// only; no behaviour beyond trivial accessors lives here.
package domain
