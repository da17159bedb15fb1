package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/matchctl/internal/auth"
	"github.com/danmuck/matchctl/internal/observability"
	"github.com/danmuck/matchctl/internal/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultPort is the client listener port used when none is configured.
const DefaultPort = 2114

var (
	ErrBind                     = errors.New("rendezvous: bind failed")
	ErrInvalidListenAddr        = errors.New("rendezvous: invalid listen address")
	ErrInvalidHeartbeatInterval = errors.New("rendezvous: invalid heartbeat interval")
)

// ServiceConfig configures the rendezvous process runtime.
type ServiceConfig struct {
	NodeID     string
	ListenAddr string
	AdminAddr  string
	// AdminToken, when set, is required as a bearer token on admin routes other than /health.
	AdminToken        string
	CorsOrigins       []string
	HeartbeatInterval time.Duration
	RecentPairs       int
	CheckInvariants   bool
	Session           session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:            "matchctl",
		ListenAddr:        fmt.Sprintf(":%d", DefaultPort),
		AdminAddr:         "",
		CorsOrigins:       []string{"http://localhost:3000"},
		HeartbeatInterval: 30 * time.Second,
		RecentPairs:       64,
		Session:           session.DefaultConfig(),
	}
}

// Service runs the coordinator, the optional admin surface and the heartbeat.
type Service struct {
	cfg    ServiceConfig
	coord  *Coordinator
	ready  atomic.Bool
	logger zerolog.Logger
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "matchctl"
	}
	if cfg.Session.AddressFormat == "" {
		cfg.Session.AddressFormat = session.AddressHost
	}
	return &Service{
		cfg: cfg,
		coord: NewCoordinator(CoordinatorConfig{
			NodeID:          cfg.NodeID,
			Session:         cfg.Session,
			RecentPairs:     cfg.RecentPairs,
			CheckInvariants: cfg.CheckInvariants,
		}),
		logger: observability.Logger("rendezvous.service").With().Str("node", cfg.NodeID).Logger(),
	}
}

func (s *Service) Coordinator() *Coordinator {
	return s.coord
}

// Ready reports whether the client listener is bound and accepting.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Run blocks until SIGINT/SIGTERM. A bind failure is returned immediately.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext binds the configured listeners and serves until ctx is done.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: client listener %s: %v", ErrBind, s.cfg.ListenAddr, err)
	}

	var adminLn net.Listener
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		adminLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("%w: admin listener %s: %v", ErrBind, addr, err)
		}
	}
	return s.Serve(ctx, ln, adminLn)
}

// Serve runs on already bound listeners. adminLn may be nil.
func (s *Service) Serve(ctx context.Context, ln net.Listener, adminLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	s.ready.Store(true)
	defer s.ready.Store(false)

	g.Go(func() error {
		return s.coord.Serve(gctx, ln)
	})
	if adminLn != nil {
		g.Go(func() error {
			return s.serveAdmin(gctx, adminLn)
		})
	}
	if s.cfg.HeartbeatInterval > 0 {
		g.Go(func() error {
			s.heartbeat(gctx)
			return nil
		})
	}

	s.logger.Info().
		Str("listen_addr", ln.Addr().String()).
		Bool("admin", adminLn != nil).
		Msg("rendezvous.Service.Serve ready")
	return g.Wait()
}

func (s *Service) validate() error {
	if strings.TrimSpace(s.cfg.ListenAddr) == "" {
		return ErrInvalidListenAddr
	}
	if s.cfg.HeartbeatInterval < 0 {
		return ErrInvalidHeartbeatInterval
	}
	if _, err := session.ParseAddressFormat(string(s.cfg.Session.AddressFormat)); err != nil {
		return err
	}
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		if err := ValidateCorsOrigins(s.cfg.CorsOrigins); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) serveAdmin(ctx context.Context, ln net.Listener) error {
	var opts []AdminOption
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		opts = append(opts, WithAdminAuth(auth.StaticToken{Token: token}))
	}
	srv := &http.Server{
		Handler:           NewAdminRouter(s.coord, s.cfg.CorsOrigins, s.Ready, opts...),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("rendezvous.Service.serveAdmin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("rendezvous.Service.serveAdmin shutdown")
		}
		return nil
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.coord.Status()
			s.logger.Info().
				Int("queue_size", st.QueueSize).
				Int("open_sessions", st.OpenSessions).
				Uint64("accepted", st.Accepted).
				Uint64("pairs", st.Pairs).
				Uint64("pruned", st.Pruned).
				Msg("rendezvous.Service.heartbeat")
		}
	}
}
