// Package pairqueue owns the rendezvous waiting pool.
//
// Ownership boundary:
// - arrival order of waiting entries
//
// - lazy eviction of entries that reported themselves invalid
//
// - atomic extraction of the two oldest valid entries
//
// The queue never closes or otherwise releases the entries it holds. It keeps a
// lookup-only reference until the entry is pruned or popped.
//
// Pruning happens only at the start of Push, CanPop and Pop. There is no
// background sweep.
package pairqueue
