package rendezvous

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/matchctl/internal/observability"
	"github.com/danmuck/matchctl/internal/pairqueue"
	"github.com/danmuck/matchctl/internal/session"
	"github.com/rs/zerolog"
)

// WaitToken acknowledges that a client is enqueued and waiting for a partner.
const WaitToken = "WAIT"

var ErrNilListener = errors.New("rendezvous: nil listener")

// Listener is the accept side of the client transport. net.Listener satisfies it.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// CoordinatorConfig configures matchmaking behavior.
type CoordinatorConfig struct {
	NodeID          string
	Session         session.Config
	RecentPairs     int
	CheckInvariants bool
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		NodeID:      "matchctl",
		Session:     session.DefaultConfig(),
		RecentPairs: 64,
	}
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	NodeID        string `json:"node_id"`
	QueueSize     int    `json:"queue_size"`
	OpenSessions  int    `json:"open_sessions"`
	Accepted      uint64 `json:"accepted"`
	AcceptErrors  uint64 `json:"accept_errors"`
	Pairs         uint64 `json:"pairs"`
	Pruned        uint64 `json:"pruned"`
	SendFailures  uint64 `json:"send_failures"`
	InvariantErrs uint64 `json:"invariant_errors"`
	Uptime        string `json:"uptime"`
}

// Coordinator owns the waiting pool and drives every accepted connection
// through enqueue and pairing.
type Coordinator struct {
	cfg     CoordinatorConfig
	queue   *pairqueue.Queue[*session.Session]
	history *pairHistory
	logger  zerolog.Logger
	started time.Time

	mu         sync.Mutex
	open       map[string]*session.Session
	lastPruned uint64

	accepted      atomic.Uint64
	acceptErrors  atomic.Uint64
	pairs         atomic.Uint64
	sendFailures  atomic.Uint64
	invariantErrs atomic.Uint64
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.NodeID == "" {
		cfg.NodeID = "matchctl"
	}
	c := &Coordinator{
		cfg:     cfg,
		history: newPairHistory(cfg.RecentPairs),
		logger:  observability.Logger("rendezvous").With().Str("node", cfg.NodeID).Logger(),
		started: time.Now(),
		open:    make(map[string]*session.Session),
	}
	var opts []pairqueue.Option
	if cfg.CheckInvariants {
		opts = append(opts, pairqueue.WithInvariantChecks(func(err error) {
			c.invariantErrs.Add(1)
			c.logger.Error().Err(err).Msg("rendezvous.Coordinator queue invariant")
		}))
	}
	c.queue = pairqueue.New[*session.Session](opts...)
	return c
}

// Serve accepts connections until ctx is done or the listener is closed.
// Failed accepts are logged and the loop continues. On return every session
// still open is closed.
func (c *Coordinator) Serve(ctx context.Context, ln Listener) error {
	if ln == nil {
		return ErrNilListener
	}
	defer c.closeAll()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	c.logger.Info().Str("addr", ln.Addr().String()).Msg("rendezvous.Coordinator.Serve listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("rendezvous.Coordinator.Serve shutdown")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			c.acceptErrors.Add(1)
			observability.RecordAcceptError(c.cfg.NodeID)
			c.logger.Warn().Err(err).Msg("rendezvous.Coordinator.Serve accept failed")
			continue
		}
		c.Admit(conn)
	}
}

// Admit wraps conn as a session, enqueues it, acknowledges it with WAIT and
// makes one pairing attempt.
func (c *Coordinator) Admit(conn net.Conn) *session.Session {
	s := session.New(conn, c.cfg.Session)
	c.track(s)

	c.queue.Push(s)
	s.Advance(session.PhaseEnqueued)
	go c.watch(s)

	c.accepted.Add(1)
	observability.RecordSessionAccepted(c.cfg.NodeID)
	c.logger.Info().
		Str("session", s.ID()).
		Str("remote", s.RemoteAddr()).
		Msg("rendezvous.Coordinator.Admit enqueued")

	if err := s.Send(WaitToken); err != nil {
		c.sendFailed(s, "wait", err)
	}

	c.TryPair()
	return s
}

// TryPair makes one pairing attempt and reports whether a pair was formed.
func (c *Coordinator) TryPair() bool {
	defer c.observeQueue()

	if !c.queue.CanPop() {
		return false
	}
	pair, err := c.queue.Pop()
	if err != nil {
		c.logger.Error().Err(err).Msg("rendezvous.Coordinator.TryPair pop after CanPop")
		return false
	}
	c.handshake(pair.First(), pair.Second())
	return true
}

// handshake sends each side the other's address and closes both. A failed
// send on one side does not stop the other.
func (c *Coordinator) handshake(first, second *session.Session) {
	at := time.Now()
	firstAddr := first.Address()
	secondAddr := second.Address()
	first.Advance(session.PhasePaired)
	second.Advance(session.PhasePaired)

	firstOK := true
	if err := first.Send(secondAddr); err != nil {
		firstOK = false
		c.sendFailed(first, "peer_address", err)
	}
	secondOK := true
	if err := second.Send(firstAddr); err != nil {
		secondOK = false
		c.sendFailed(second, "peer_address", err)
	}

	for _, s := range []*session.Session{first, second} {
		if err := s.Close(); err != nil {
			c.logger.Warn().Err(err).Str("session", s.ID()).Msg("rendezvous.Coordinator.handshake close failed")
		}
	}

	rec := c.history.record(PairRecord{
		First:    peerRecord(first, at, firstOK),
		Second:   peerRecord(second, at, secondOK),
		PairedAt: at,
	})
	c.pairs.Add(1)
	observability.RecordPair(c.cfg.NodeID)
	c.logger.Info().
		Uint64("seq", rec.Seq).
		Str("first", first.ID()).
		Str("first_addr", firstAddr).
		Str("second", second.ID()).
		Str("second_addr", secondAddr).
		Msg("rendezvous.Coordinator.handshake paired")
}

func (c *Coordinator) sendFailed(s *session.Session, payload string, err error) {
	c.sendFailures.Add(1)
	observability.RecordSendFailure(c.cfg.NodeID, payload)
	c.logger.Warn().
		Err(err).
		Str("session", s.ID()).
		Str("payload", payload).
		Msg("rendezvous.Coordinator send failed")
}

// watch runs the session's departure detector and drops it from the open set
// once it is closed for any reason.
func (c *Coordinator) watch(s *session.Session) {
	s.Watch()
	c.untrack(s)
}

func (c *Coordinator) track(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[s.ID()] = s
}

func (c *Coordinator) untrack(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, s.ID())
}

// observeQueue publishes queue depth and newly pruned entries.
func (c *Coordinator) observeQueue() {
	size := c.queue.Size()
	pruned := c.queue.Pruned()

	c.mu.Lock()
	delta := pruned - c.lastPruned
	c.lastPruned = pruned
	c.mu.Unlock()

	observability.SetQueueSize(c.cfg.NodeID, size)
	observability.RecordPruned(c.cfg.NodeID, delta)
	if delta > 0 {
		c.logger.Debug().Uint64("pruned", delta).Int("queue_size", size).Msg("rendezvous.Coordinator pruned departed sessions")
	}
}

// closeAll releases every session still open. Pending pairs are not flushed.
func (c *Coordinator) closeAll() {
	c.mu.Lock()
	open := make([]*session.Session, 0, len(c.open))
	for _, s := range c.open {
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err != nil {
			c.logger.Debug().Err(err).Str("session", s.ID()).Msg("rendezvous.Coordinator.closeAll close failed")
		}
	}
	if len(open) > 0 {
		c.logger.Info().Int("sessions", len(open)).Msg("rendezvous.Coordinator.closeAll released")
	}
}

// Status returns counters and current queue depth.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	open := len(c.open)
	c.mu.Unlock()
	return Status{
		NodeID:        c.cfg.NodeID,
		QueueSize:     c.queue.Size(),
		OpenSessions:  open,
		Accepted:      c.accepted.Load(),
		AcceptErrors:  c.acceptErrors.Load(),
		Pairs:         c.pairs.Load(),
		Pruned:        c.queue.Pruned(),
		SendFailures:  c.sendFailures.Load(),
		InvariantErrs: c.invariantErrs.Load(),
		Uptime:        time.Since(c.started).Truncate(time.Second).String(),
	}
}

// RecentPairs returns up to limit completed pairings, oldest first.
func (c *Coordinator) RecentPairs(limit int) []PairRecord {
	return c.history.recent(limit)
}

// Waiting returns the sessions currently linked in the pool, oldest first.
func (c *Coordinator) Waiting() []*session.Session {
	return c.queue.Items()
}
