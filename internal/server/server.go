// Package server exposes the admin HTTP surface: health, connection status,
// stored sightings, discovered readers, metrics and a guarded raw command route.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/rfidctl/internal/auth"
	"github.com/danmuck/rfidctl/internal/discovery"
	"github.com/danmuck/rfidctl/internal/observability"
	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/danmuck/rfidctl/internal/supervisor"
	"github.com/danmuck/rfidctl/internal/tagstore"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Supervisor is the slice of supervisor.Supervisor the admin surface reads.
type Supervisor interface {
	Address() string
	Connected() bool
	LastStatus() supervisor.Status
	Current() *reader.Session
}

type TagLister interface {
	List(ctx context.Context, limit int) ([]tagstore.Sighting, error)
	Count(ctx context.Context) (int, error)
}

type ReaderLister interface {
	Readers() []discovery.ReaderInfo
}

type Config struct {
	Name        string
	Addr        string
	CORSOrigins []string
	// Token guards POST /command. Nil disables the route's access entirely.
	Token auth.Validator
}

type Server struct {
	cfg     Config
	router  *gin.Engine
	log     zerolog.Logger
	started time.Time

	supervisor Supervisor
	tags       TagLister
	readers    ReaderLister
}

type Option func(*Server)

func WithTags(t TagLister) Option {
	return func(s *Server) {
		s.tags = t
	}
}

func WithReaders(r ReaderLister) Option {
	return func(s *Server) {
		s.readers = r
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func New(cfg Config, sup Supervisor, opts ...Option) *Server {
	if cfg.Name == "" {
		cfg.Name = "rfidctl"
	}
	s := &Server{
		cfg:        cfg,
		log:        log.Logger,
		started:    time.Now(),
		supervisor: sup,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "server.Server").Logger()

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.ObserveRequests(cfg.Name, s.log))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.router = r
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Msgf("server.Server listening addr=%s", ln.Addr())

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
			return err
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
