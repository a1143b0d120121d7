// Package bridge converts between native Go values and objects living in the
// interpreter heap of package vm.
//
// Host code describes the content it wants with wrapper values (Symbol, Lang,
// Pairlist, List, Env, ...) built purely in Go memory, then materializes them
// once into a Handle. In the other direction a Handle is narrowed back into a
// wrapper with one of the As* extractions, which return false when the
// object's type tag does not match.
//
// The interpreter is single-threaded. An Engine owns the heap and runs every
// operation on one worker goroutine; RunExclusively hands the operation a
// *Session, and all allocation goes through that session. Concurrent callers
// queue behind each other.
//
// A Handle is either owned or borrowed. Owned handles keep their object in
// the heap's precious set until released; borrowed handles refer to objects
// some other root keeps alive and are never deregistered by this package.
package bridge
