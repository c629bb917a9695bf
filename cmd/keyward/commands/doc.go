// Package commands wires the keyward CLI: flag parsing, dependency
// construction and one file per subcommand.
package commands
