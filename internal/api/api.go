package api

import (
	"net/http"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/queue"
	"support-inbox-backend/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

type APIServer struct {
	listenAddr      string
	queueManager    *queue.Manager
	db              *database.Database
	bus             *realtime.Bus
	handler         *realtime.Handler
	log             zerolog.Logger
	routeRegistrars []RouteRegistrar
	metrics         *metrics
}

func NewAPIServer(
	listenAddr string,
	qm *queue.Manager,
	db *database.Database,
	bus *realtime.Bus,
	handler *realtime.Handler,
	log zerolog.Logger,
	registrars ...RouteRegistrar,
) *APIServer {
	return &APIServer{
		listenAddr:      listenAddr,
		queueManager:    qm,
		db:              db,
		bus:             bus,
		handler:         handler,
		log:             log,
		routeRegistrars: registrars,
		metrics:         newMetrics(prometheus.DefaultRegisterer, listenAddr, qm),
	}
}

func (s *APIServer) Run() {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	s.log.Info().Str("addr", s.listenAddr).Msg("server listening")

	if err := http.ListenAndServe(s.listenAddr, s.metrics.instrument(mux)); err != nil {
		s.log.Error().Err(err).Msg("server stopped")
	}
}

func (s *APIServer) Database() *database.Database {
	return s.db
}

func (s *APIServer) Bus() *realtime.Bus {
	return s.bus
}

func (s *APIServer) Handler() *realtime.Handler {
	return s.handler
}

func (s *APIServer) Queue() *queue.Manager {
	return s.queueManager
}

func (s *APIServer) Log() zerolog.Logger {
	return s.log
}
