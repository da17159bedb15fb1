package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed               = errors.New("session: closed")
	ErrInvalidAddressFormat = errors.New("session: invalid address format")
)

// AddressFormat selects how a peer address is rendered on the wire.
type AddressFormat string

const (
	// AddressHost sends the bare IP, matching clients that pick their own port.
	AddressHost     AddressFormat = "host"
	AddressHostPort AddressFormat = "hostport"
)

// ParseAddressFormat validates a configured address format. Empty means host.
func ParseAddressFormat(raw string) (AddressFormat, error) {
	switch AddressFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AddressHost:
		return AddressHost, nil
	case AddressHostPort:
		return AddressHostPort, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAddressFormat, raw)
	}
}

// Config tunes per-session transport behavior.
type Config struct {
	AddressFormat AddressFormat
	// WriteTimeout bounds a single Send. Zero disables the deadline.
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AddressFormat: AddressHost,
		WriteTimeout:  10 * time.Second,
	}
}

// Session wraps an accepted connection with a stable address and a validity
// flag that only ever moves from true to false.
type Session struct {
	id       string
	conn     net.Conn
	address  string
	remote   string
	openedAt time.Time
	cfg      Config
	logger   zerolog.Logger

	valid atomic.Bool

	writeMu sync.Mutex

	phaseMu sync.Mutex
	phase   Phase

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New wraps conn. The session starts valid in PhaseAccepted.
func New(conn net.Conn, cfg Config) *Session {
	remote := ""
	if ra := conn.RemoteAddr(); ra != nil {
		remote = ra.String()
	}
	s := &Session{
		id:       uuid.NewString(),
		conn:     conn,
		address:  formatAddress(remote, cfg.AddressFormat),
		remote:   remote,
		openedAt: time.Now(),
		cfg:      cfg,
		phase:    PhaseAccepted,
		done:     make(chan struct{}),
	}
	s.logger = log.Logger.With().Str("session", s.id).Str("remote", remote).Logger()
	s.valid.Store(true)
	return s
}

func formatAddress(remote string, format AddressFormat) string {
	if format == AddressHostPort {
		return remote
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

func (s *Session) ID() string {
	return s.id
}

// Address returns the peer-facing address captured at accept time.
func (s *Session) Address() string {
	return s.address
}

// RemoteAddr returns the full host:port of the client.
func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

func (s *Session) IsValid() bool {
	return s.valid.Load()
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send writes one newline-terminated line. Concurrent Sends never interleave.
// A write failure closes the session.
func (s *Session) Send(line string) error {
	if !s.IsValid() {
		return ErrClosed
	}
	err := s.writeLine(line)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("session %s send: %w", s.id, err)
	}
	return nil
}

func (s *Session) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

// Close marks the session invalid before releasing the connection. Repeated
// calls return the result of the first release.
func (s *Session) Close() error {
	s.valid.Store(false)
	s.closeOnce.Do(func() {
		s.phaseMu.Lock()
		if !s.phase.terminal() {
			s.phase = PhaseInvalid
		}
		s.phaseMu.Unlock()

		s.closeErr = s.conn.Close()
		close(s.done)
		s.logger.Debug().
			Str("phase", string(s.Phase())).
			Dur("open_for", time.Since(s.openedAt)).
			Msg("session.Session.Close")
	})
	return s.closeErr
}

// Watch drains inbound lines until the client leaves or the read fails, then
// closes the session. It blocks and is meant to run on its own goroutine.
// Lines of any length are accepted; long lines arrive as buffer-sized
// fragments and only the first fragment is logged.
func (s *Session) Watch() {
	defer s.Close()

	reader := bufio.NewReader(s.conn)
	continuing := false
	for {
		fragment, isPrefix, err := reader.ReadLine()
		if err != nil {
			switch {
			case !s.IsValid():
			case errors.Is(err, io.EOF):
				s.logger.Debug().Msg("session.Session.Watch client left")
			default:
				s.logger.Debug().Err(err).Msg("session.Session.Watch read failed")
			}
			return
		}
		if !continuing {
			s.logger.Debug().
				Str("line", string(fragment)).
				Bool("truncated", isPrefix).
				Msg("session.Session.Watch inbound")
		}
		continuing = isPrefix
	}
}
