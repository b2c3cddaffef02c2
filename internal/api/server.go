package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bmizerany/pat"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"github.com/rs/cors"

	"fleet-tracker/internal/broadcast"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geoindex"
	"fleet-tracker/internal/logger"
)

// NearbyFinder answers proximity queries over live positions.
type NearbyFinder interface {
	Nearby(ctx context.Context, networkID string, c fleet.Coordinate, radiusM float64, limit int, statuses ...fleet.VehicleStatus) ([]geoindex.NearbyVehicle, error)
}

type Options struct {
	Manager        *broadcast.Manager
	Nearby         NearbyFinder
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         logger.Logger
}

type Server struct {
	manager  *broadcast.Manager
	nearby   NearbyFinder
	metrics  http.Handler
	origins  []string
	log      logger.Logger
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger{}
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		manager: opts.Manager,
		nearby:  opts.Nearby,
		metrics: opts.Metrics,
		origins: opts.AllowedOrigins,
		log:     opts.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	standard := alice.New(s.recoverPanic, s.logRequest, secureHeaders)
	jsonAPI := standard.Append(makeResponseJSON)

	mux := pat.New()
	mux.Get("/tracking/:network", standard.ThenFunc(s.tracking))
	mux.Get("/status/:network", jsonAPI.ThenFunc(s.networkStatus))
	mux.Get("/status", jsonAPI.ThenFunc(s.allStatus))
	mux.Get("/nearby/:network", jsonAPI.ThenFunc(s.nearbyVehicles))
	mux.Get("/healthz", jsonAPI.ThenFunc(s.healthz))
	if s.metrics != nil {
		mux.Get("/metrics", s.metrics)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
