package pairqueue

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/matchctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

type entry struct {
	id      int
	invalid atomic.Bool
}

func newEntry(id int) *entry {
	return &entry{id: id}
}

func (e *entry) IsValid() bool {
	return !e.invalid.Load()
}

func (e *entry) invalidate() {
	e.invalid.Store(true)
}

func ids(items []*entry) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.id)
	}
	return out
}

func strictQueue(t *testing.T) *Queue[*entry] {
	t.Helper()
	return New[*entry](WithInvariantChecks(func(err error) {
		t.Errorf("invariant: %v", err)
	}))
}

func TestNewQueueIsEmpty(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	if q.Size() != 0 {
		t.Fatalf("expected empty queue, got size=%d", q.Size())
	}
	if q.CanPop() {
		t.Fatalf("expected CanPop=false on empty queue")
	}
	if err := q.Check(); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}

func TestPushPopTwoInOrder(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	a, b := newEntry(1), newEntry(2)
	q.Push(a)
	q.Push(b)

	if !q.CanPop() {
		t.Fatalf("expected CanPop=true after two pushes")
	}
	pair, err := q.Pop()
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if pair.First() != a || pair.Second() != b {
		t.Fatalf("unexpected pair order: first=%d second=%d", pair.First().id, pair.Second().id)
	}
	if q.CanPop() {
		t.Fatalf("expected CanPop=false after draining")
	}
	if q.Size() != 0 {
		t.Fatalf("expected size 0, got %d", q.Size())
	}
}

func TestPopSkipsInvalidEntries(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	a, b, c, d := newEntry(1), newEntry(2), newEntry(3), newEntry(4)
	for _, e := range []*entry{a, b, c, d} {
		q.Push(e)
	}
	b.invalidate()
	c.invalidate()

	pair, err := q.Pop()
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if pair.First() != a || pair.Second() != d {
		t.Fatalf("expected (1,4), got (%d,%d)", pair.First().id, pair.Second().id)
	}
	if q.Pruned() != 2 {
		t.Fatalf("expected 2 pruned, got %d", q.Pruned())
	}
}

func TestPopWithoutEnoughEntriesFails(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	if _, err := q.Pop(); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation on empty queue, got %v", err)
	}

	a, b := newEntry(1), newEntry(2)
	q.Push(a)
	q.Push(b)
	b.invalidate()
	if _, err := q.Pop(); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation with one valid entry, got %v", err)
	}
	if q.Size() != 1 {
		t.Fatalf("expected failed pop to leave survivor linked, size=%d", q.Size())
	}
}

func TestPruneIsObservedOnlyOnLaterCalls(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	entries := []*entry{newEntry(1), newEntry(2), newEntry(3)}
	for _, e := range entries {
		q.Push(e)
	}
	entries[1].invalidate()

	if q.Size() != 3 {
		t.Fatalf("size must not change before a pruning call, got %d", q.Size())
	}
	q.Push(newEntry(4))
	if q.Size() != 3 {
		t.Fatalf("expected push to prune one and add one, got %d", q.Size())
	}
	if diff := cmp.Diff([]int{1, 3, 4}, ids(q.Items())); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	entries[0].invalidate()
	if q.Size() != 3 {
		t.Fatalf("size must not change before a pruning call, got %d", q.Size())
	}
	if !q.CanPop() {
		t.Fatalf("expected CanPop=true with entries 3 and 4")
	}
	if q.Size() != 2 {
		t.Fatalf("expected CanPop to prune, got size=%d", q.Size())
	}
}

func TestCanPopFalseWhenAllInvalid(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	for i := 0; i < 5; i++ {
		e := newEntry(i)
		q.Push(e)
		e.invalidate()
	}
	if q.CanPop() {
		t.Fatalf("expected CanPop=false when every entry is invalid")
	}
	if q.Size() != 0 {
		t.Fatalf("expected full prune, size=%d", q.Size())
	}
	if q.Pruned() != 5 {
		t.Fatalf("expected 5 pruned, got %d", q.Pruned())
	}
}

func TestInvalidateTwiceMatchesOnce(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	a, b, c := newEntry(1), newEntry(2), newEntry(3)
	q.Push(a)
	q.Push(b)
	q.Push(c)
	b.invalidate()
	b.invalidate()
	if b.IsValid() {
		t.Fatalf("validity must not revert")
	}
	pair, err := q.Pop()
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if pair.First() != a || pair.Second() != c {
		t.Fatalf("expected (1,3), got (%d,%d)", pair.First().id, pair.Second().id)
	}
	if q.Pruned() != 1 {
		t.Fatalf("expected single prune, got %d", q.Pruned())
	}
}

func TestFIFOAcrossSlotReuse(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)
	next := 0
	push := func() *entry {
		e := newEntry(next)
		next++
		q.Push(e)
		return e
	}

	var popped []int
	for round := 0; round < 20; round++ {
		push()
		push()
		victim := push()
		if round%2 == 0 {
			victim.invalidate()
		}
		for q.CanPop() {
			pair, err := q.Pop()
			if err != nil {
				t.Fatalf("pop failed: %v", err)
			}
			popped = append(popped, pair.First().id, pair.Second().id)
		}
	}
	for i := 1; i < len(popped); i++ {
		if popped[i] <= popped[i-1] {
			t.Fatalf("pop order not FIFO at %d: %v", i, popped)
		}
	}
	if err := q.Check(); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}

func TestConcurrentStressKeepsChainConsistent(t *testing.T) {
	testlog.Start(t)
	q := strictQueue(t)

	const (
		pushers   = 8
		poppers   = 4
		perPusher = 500
	)

	var (
		wg       sync.WaitGroup
		poppedMu sync.Mutex
		popped   = make(map[int]int)
		stop     atomic.Bool
	)

	for p := 0; p < pushers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(p)))
			local := make([]*entry, 0, perPusher)
			for i := 0; i < perPusher; i++ {
				e := newEntry(p*perPusher + i)
				local = append(local, e)
				q.Push(e)
				if rng.Intn(4) == 0 {
					local[rng.Intn(len(local))].invalidate()
				}
			}
		}(p)
	}

	var popWG sync.WaitGroup
	for c := 0; c < poppers; c++ {
		popWG.Add(1)
		go func() {
			defer popWG.Done()
			for !stop.Load() {
				if !q.CanPop() {
					continue
				}
				pair, err := q.Pop()
				if err != nil {
					if !errors.Is(err, ErrInvalidOperation) {
						t.Errorf("unexpected pop error: %v", err)
					}
					continue
				}
				poppedMu.Lock()
				popped[pair.First().id]++
				popped[pair.Second().id]++
				poppedMu.Unlock()
			}
		}()
	}

	wg.Wait()
	stop.Store(true)
	popWG.Wait()

	if err := q.Check(); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	for id, n := range popped {
		if n != 1 {
			t.Fatalf("entry %d popped %d times", id, n)
		}
	}

	linked := q.Items()
	for _, e := range linked {
		if _, ok := popped[e.id]; ok {
			t.Fatalf("entry %d is both popped and linked", e.id)
		}
	}

	total := pushers * perPusher
	got := len(popped) + int(q.Pruned()) + q.Size()
	if got != total {
		t.Fatalf("accounting mismatch: popped=%d pruned=%d size=%d total=%d",
			len(popped), q.Pruned(), q.Size(), total)
	}
}
