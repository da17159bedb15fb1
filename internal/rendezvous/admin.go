package rendezvous

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/matchctl/internal/auth"
	"github.com/danmuck/matchctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPairsLimit = 20

var ErrInvalidCorsOrigins = errors.New("rendezvous: invalid cors origins")

var adminTrustedProxies = []string{"127.0.0.1", "::1"}

type adminOptions struct {
	validator auth.Validator
}

// AdminOption customizes NewAdminRouter.
type AdminOption func(*adminOptions)

// WithAdminAuth requires a bearer token accepted by v on every route except /health.
func WithAdminAuth(v auth.Validator) AdminOption {
	return func(o *adminOptions) {
		o.validator = v
	}
}

// NewAdminRouter builds the read-only admin HTTP surface for c.
func NewAdminRouter(c *Coordinator, corsOrigins []string, ready func() bool, opts ...AdminOption) *gin.Engine {
	observability.RegisterMetrics()
	nodeID := c.cfg.NodeID
	var o adminOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.Logger("admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog(nodeID, logger, "/metrics", "/health"))
	corsCfg := corsConfig(corsOrigins)
	if err := corsCfg.Validate(); err != nil {
		logger.Error().Err(err).Strs("origins", corsCfg.AllowOrigins).Msg("rendezvous.NewAdminRouter cors disabled")
	} else {
		r.Use(cors.New(corsCfg))
	}
	if o.validator != nil {
		r.Use(auth.Require(o.validator, "/health"))
	}
	if err := r.SetTrustedProxies(adminTrustedProxies); err != nil {
		logger.Warn().Err(err).Msg("rendezvous.NewAdminRouter trusted proxies")
	}

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(c.started).Truncate(time.Second).String(),
			"node":    nodeID,
			"version": "0.1.0",
		})
	})

	r.GET("/ready", func(ctx *gin.Context) {
		ok := ready == nil || ready()
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, gin.H{
			"ready": ok,
			"node":  nodeID,
		})
	})

	r.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Status())
	})

	r.GET("/pairs", func(ctx *gin.Context) {
		limit := defaultPairsLimit
		if raw := ctx.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		ctx.JSON(http.StatusOK, gin.H{"pairs": c.RecentPairs(limit)})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ValidateCorsOrigins reports origins the admin CORS middleware would refuse.
// Each entry must be "*" or carry an http:// or https:// scheme.
func ValidateCorsOrigins(origins []string) error {
	if err := corsConfig(origins).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCorsOrigins, err)
	}
	return nil
}

func corsConfig(origins []string) cors.Config {
	return cors.Config{
		AllowOrigins: normalizeOrigins(origins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
