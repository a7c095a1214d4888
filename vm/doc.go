// Package vm implements the Ember runtime substrate.
//
// This package contains:
//   - Tagged value representation
//   - Type descriptors and the type registry
//   - Per-type operation tables and value dispatch
//   - Object heap with reference-count locking and staged finalization
//   - Visit-based cycle collection with optional write barriers
//   - Execution contexts (value stack, status, jump targets)
//   - Register bytecode interpreter
package vm
