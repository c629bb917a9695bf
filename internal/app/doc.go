// Package app wires the subsystem's stores, services and clients into one
// dependency graph for embedding or for the CLI.
package app
