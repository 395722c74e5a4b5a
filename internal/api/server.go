package api

import (
	"context"
	"fmt"
	"jobstream/internal/config"
	"jobstream/internal/infra/database"
	"jobstream/internal/infra/redisq"
	"jobstream/internal/pipeline"
	"jobstream/internal/usecase"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

func NewServer() *Server {
	ctx := context.Background()
	cfg := config.Load()

	cli := redisq.New(cfg.Redis, cfg.Queue)
	if err := cli.Connect(ctx); err != nil {
		log.Fatal().Msgf("something went wrong: %s", err)
	}

	db, err := database.Open(cfg.Database, logger.Warn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	repo := database.NewSetupRepository(db)
	events := redisq.NewEventStore(cli.Rdb)

	h := &Handler{
		Queue: cli,
		Repo:  repo,
		Setup: pipeline.Setup{Repo: repo, Orchestrator: pipeline.NewOrchestrator(cli, events)},
		Subscriber: usecase.Subscriber{
			Events:     events,
			PollWindow: cfg.Stream.PollWindow,
			BatchSize:  cfg.Stream.BatchSize,
		},
		RetryMs: cfg.Stream.RetryMs,
	}

	return &Server{router: NewRouter(h), close: cli.Close}
}

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/healthcheck", h.healthcheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/stores", func(r chi.Router) {
		r.Post("/", h.createStore)
		r.Get("/{storeID}", h.getStore)
	})
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", h.createCampaign)
		r.Get("/{campaignID}", h.getCampaign)
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/{jobID}", h.getJob)
		r.Get("/{jobID}/events", h.jobEvents)
	})
	return r
}

type Server struct {
	router *chi.Mux
	close  func() error
}

func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool {
			return r.URL.Path == "/healthcheck" || r.URL.Path == "/metrics" || strings.HasSuffix(r.URL.Path, "/events")
		}),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

// Run method of the Server struct runs the HTTP server on the specified port. It initializes
// a new HTTP server instance with the specified port and the server's router.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	// WriteTimeout does not apply to the event stream, which clears its own
	// deadline.
	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}
		if s.close != nil {
			_ = s.close()
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
