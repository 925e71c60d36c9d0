package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/replinet/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownGrace = 5 * time.Second

// ConnectionSource returns a JSON-encodable view of live connections. It is
// called from HTTP goroutines and must not touch loop-owned state.
type ConnectionSource func() any

// Admin is the read-only HTTP surface next to the frame server.
type Admin struct {
	node     string
	started  time.Time
	router   *gin.Engine
	conns    ConnectionSource
	guard    auth.Validator
	log      zerolog.Logger
}

// NewAdmin builds the admin router. A non-nil guard protects /connections
// with a bearer token.
func NewAdmin(node string, corsOrigins []string, conns ConnectionSource, guard auth.Validator, logger zerolog.Logger) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		node:    node,
		started: time.Now(),
		router:  r,
		conns:   conns,
		guard:   guard,
		log:     logger,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"service": a.node,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers := []gin.HandlerFunc{}
	if a.guard != nil {
		handlers = append(handlers, auth.RequireBearer(a.guard))
	}
	handlers = append(handlers, func(c *gin.Context) {
		var conns any = []any{}
		if a.conns != nil {
			if v := a.conns(); v != nil {
				conns = v
			}
		}
		c.JSON(http.StatusOK, gin.H{"connections": conns})
	})
	a.router.GET("/connections", handlers...)
}

// Serve listens on addr and blocks until ctx is cancelled or the listener fails.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("admin http listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("admin http shutdown")
		}
		<-errCh
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
