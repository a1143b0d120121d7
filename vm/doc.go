// Package vm implements the object model of the foreign interpreter that
// rbridge converts values to and from.
//
// This package contains:
//   - Typed heap cells sharing the car/cdr/tag layout of the interpreter
//   - An allocator that may run a mark-sweep collection on any allocation
//   - The protection stack and the precious set (the two root registries)
//   - Symbol table, character cache and environments
//   - A small evaluator with the primitives the bridge calls back into
//
// The heap is not safe for concurrent use. Callers serialize access; the
// bridge package does so through a single worker goroutine.
package vm
