// Package cli implements WASI CLI interfaces for command-line programs.
//
// Implements:
//   - wasi:cli/environment@0.2.8 - Environment variables and arguments
//   - wasi:cli/exit@0.2.8 - Program exit
//   - wasi:cli/stdin@0.2.8 - Standard input
//   - wasi:cli/stdout@0.2.8 - Standard output
//   - wasi:cli/stderr@0.2.8 - Standard error
//   - wasi:cli/terminal-input@0.2.8 - Terminal input detection
//   - wasi:cli/terminal-output@0.2.8 - Terminal output detection
//   - wasi:cli/terminal-stdin@0.2.8 - Terminal stdin
//   - wasi:cli/terminal-stdout@0.2.8 - Terminal stdout
//   - wasi:cli/terminal-stderr@0.2.8 - Terminal stderr
package cli
