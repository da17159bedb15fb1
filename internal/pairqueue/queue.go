package pairqueue

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalidOperation = errors.New("pairqueue: invalid operation")
	ErrCorrupt          = errors.New("pairqueue: structural invariant violated")
)

// Validity is implemented by anything that can sit in the waiting pool.
type Validity interface {
	IsValid() bool
}

const (
	headSlot = 0
	tailSlot = 1
	noSlot   = -1
)

// slot is one arena cell. Sentinels live at headSlot and tailSlot and never
// carry an item.
type slot[T Validity] struct {
	item T
	prev int
	next int
	used bool
}

// Pair is the result of one successful Pop, in insertion order.
type Pair[T any] struct {
	first  T
	second T
}

func (p Pair[T]) First() T {
	return p.first
}

func (p Pair[T]) Second() T {
	return p.second
}

// Option tunes queue construction.
type Option func(*options)

type options struct {
	onViolation func(error)
}

// WithInvariantChecks runs the structural check after every mutation and
// reports failures to fn.
func WithInvariantChecks(fn func(error)) Option {
	return func(o *options) {
		o.onViolation = fn
	}
}

// Queue is a FIFO waiting pool backed by an arena of indexed slots forming a
// doubly linked chain between two sentinels.
type Queue[T Validity] struct {
	mu     sync.Mutex
	slots  []slot[T]
	free   []int
	size   int
	pruned uint64

	onViolation func(error)
}

// New returns an empty queue with linked sentinels.
func New[T Validity](opts ...Option) *Queue[T] {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	q := &Queue[T]{
		slots:       make([]slot[T], 2, 16),
		free:        make([]int, 0, 8),
		onViolation: o.onViolation,
	}
	q.slots[headSlot] = slot[T]{prev: noSlot, next: tailSlot}
	q.slots[tailSlot] = slot[T]{prev: headSlot, next: noSlot}
	q.verifyLocked("new")
	return q
}

// Push prunes invalid entries, then appends item behind the newest entry.
// item must not be a nil pointer.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()

	idx := q.allocLocked()
	last := q.slots[tailSlot].prev
	q.slots[idx] = slot[T]{item: item, prev: last, next: tailSlot, used: true}
	q.slots[last].next = idx
	q.slots[tailSlot].prev = idx
	q.size++

	q.verifyLocked("push")
}

// CanPop prunes invalid entries and reports whether at least two remain.
func (q *Queue[T]) CanPop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	return q.size >= 2
}

// Pop removes the two oldest valid entries. It fails with ErrInvalidOperation
// when CanPop would report false.
func (q *Queue[T]) Pop() (Pair[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	if q.size < 2 {
		return Pair[T]{}, fmt.Errorf("%w: pop needs 2 valid entries, have %d", ErrInvalidOperation, q.size)
	}

	firstIdx := q.slots[headSlot].next
	secondIdx := q.slots[firstIdx].next
	pair := Pair[T]{
		first:  q.slots[firstIdx].item,
		second: q.slots[secondIdx].item,
	}
	q.unlinkLocked(firstIdx)
	q.unlinkLocked(secondIdx)

	q.verifyLocked("pop")
	return pair, nil
}

// Size returns the number of linked entries, including invalid entries that
// have not been pruned yet.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Pruned returns the cumulative number of entries evicted as invalid.
func (q *Queue[T]) Pruned() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruned
}

// Items returns the linked entries oldest first without pruning.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.size)
	for idx := q.slots[headSlot].next; idx != tailSlot; idx = q.slots[idx].next {
		out = append(out, q.slots[idx].item)
	}
	return out
}

// Check walks the chain in both directions and validates sentinels and size.
func (q *Queue[T]) Check() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.checkLocked()
}

func (q *Queue[T]) pruneLocked() {
	idx := q.slots[headSlot].next
	for idx != tailSlot {
		next := q.slots[idx].next
		if !q.slots[idx].item.IsValid() {
			q.unlinkLocked(idx)
			q.pruned++
		}
		idx = next
	}
}

func (q *Queue[T]) allocLocked() int {
	if n := len(q.free); n > 0 {
		idx := q.free[n-1]
		q.free = q.free[:n-1]
		return idx
	}
	q.slots = append(q.slots, slot[T]{})
	return len(q.slots) - 1
}

// unlinkLocked splices idx out of the chain and returns its cell to the free
// list. The item reference is dropped so the queue stops retaining it.
func (q *Queue[T]) unlinkLocked(idx int) {
	prev := q.slots[idx].prev
	next := q.slots[idx].next
	q.slots[prev].next = next
	q.slots[next].prev = prev
	q.slots[idx] = slot[T]{prev: noSlot, next: noSlot}
	q.free = append(q.free, idx)
	q.size--
}

func (q *Queue[T]) verifyLocked(op string) {
	if q.onViolation == nil {
		return
	}
	if err := q.checkLocked(); err != nil {
		q.onViolation(fmt.Errorf("after %s: %w", op, err))
	}
}

func (q *Queue[T]) checkLocked() error {
	if q.size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrCorrupt, q.size)
	}
	head := q.slots[headSlot]
	tail := q.slots[tailSlot]
	if head.used || tail.used || head.prev != noSlot || tail.next != noSlot {
		return fmt.Errorf("%w: sentinel carries data or outer link", ErrCorrupt)
	}

	steps := 0
	for idx := head.next; idx != tailSlot; idx = q.slots[idx].next {
		if idx < 0 || idx >= len(q.slots) || !q.slots[idx].used {
			return fmt.Errorf("%w: forward walk hit dead slot %d", ErrCorrupt, idx)
		}
		steps++
		if steps > q.size {
			return fmt.Errorf("%w: forward walk exceeds size %d", ErrCorrupt, q.size)
		}
	}
	if steps != q.size {
		return fmt.Errorf("%w: forward walk %d steps, size %d", ErrCorrupt, steps, q.size)
	}

	steps = 0
	for idx := tail.prev; idx != headSlot; idx = q.slots[idx].prev {
		if idx < 0 || idx >= len(q.slots) || !q.slots[idx].used {
			return fmt.Errorf("%w: backward walk hit dead slot %d", ErrCorrupt, idx)
		}
		steps++
		if steps > q.size {
			return fmt.Errorf("%w: backward walk exceeds size %d", ErrCorrupt, q.size)
		}
	}
	if steps != q.size {
		return fmt.Errorf("%w: backward walk %d steps, size %d", ErrCorrupt, steps, q.size)
	}

	if live := len(q.slots) - 2 - len(q.free); live != q.size {
		return fmt.Errorf("%w: %d allocated slots, size %d", ErrCorrupt, live, q.size)
	}
	return nil
}
