package webd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/olahol/melody"
	"github.com/rotblauer/trackd/api"
	"github.com/rotblauer/trackd/daemon/workd"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
)

// JobSource looks up durable jobs for inspection.
type JobSource interface {
	Get(id string) (*queue.Job, error)
	Counts() (map[queue.State]int, error)
}

type WebDaemon struct {
	Config *params.WebDaemonConfig

	service *api.Service
	jobs    JobSource
	bus     *events.Bus

	// work is optional; when set its counters appear in the status report.
	work *workd.WorkDaemon

	logger         *slog.Logger
	melodyInstance *melody.Melody
	startedAt      time.Time
}

func NewWebDaemon(config *params.WebDaemonConfig, service *api.Service, jobs JobSource, bus *events.Bus) *WebDaemon {
	if config == nil {
		config = params.DefaultWebDaemonConfig()
	}
	return &WebDaemon{
		Config:    config,
		service:   service,
		jobs:      jobs,
		bus:       bus,
		logger:    slog.With("d", "web"),
		startedAt: time.Now(),
	}
}

// WithWorkDaemon adds the work daemon's counters to the status report.
func (s *WebDaemon) WithWorkDaemon(d *workd.WorkDaemon) *WebDaemon {
	s.work = d
	return s
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (s *WebDaemon) Run(ctx context.Context) error {
	listener, err := net.Listen(s.Config.Network, s.Config.Address)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: s.Config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web daemon", "network", s.Config.Network, "address", listener.Addr().String())
		errs <- server.Serve(listener)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping web daemon")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Config.ShutdownTimeout)
	defer cancel()
	_ = s.melodyInstance.Close()
	if err := server.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WebDaemon) NewRouter() *mux.Router {
	s.initMelody()

	router := mux.NewRouter().StrictSlash(false)
	router.Use(s.loggingMiddleware)
	router.Use(ghandlers.RecoveryHandler(ghandlers.RecoveryLogger(recoveryLogger{s.logger})))

	router.Path("/socket").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.melodyInstance.HandleRequest(w, r)
	})

	apiRoutes := router.NewRoute().Subrouter()

	// All API routes use permissive CORS settings.
	apiRoutes.Use(permissiveCorsMiddleware)

	// /ping is a simple server healthcheck endpoint
	apiRoutes.Path("/ping").HandlerFunc(pingPong).Methods(http.MethodGet)

	apiJSONRoutes := apiRoutes.NewRoute().Subrouter()
	apiJSONRoutes.Use(contentTypeMiddlewareFunc("application/json"))

	apiJSONRoutes.Path("/status").HandlerFunc(s.statusReport).Methods(http.MethodGet)

	apiJSONRoutes.Path("/trips/{trip}/trackfile").HandlerFunc(s.handleUpload).Methods(http.MethodPost)
	apiJSONRoutes.Path("/trips/{trip}/trackfile").HandlerFunc(s.handleGetByTrip).Methods(http.MethodGet)
	apiJSONRoutes.Path("/trips/{trip}/trackfile").HandlerFunc(s.handleDeleteByTrip).Methods(http.MethodDelete)

	apiJSONRoutes.Path("/trackfiles/{id:[0-9]+}").HandlerFunc(s.handleGet).Methods(http.MethodGet)
	apiJSONRoutes.Path("/trackfiles/{id:[0-9]+}").HandlerFunc(s.handleDelete).Methods(http.MethodDelete)
	apiJSONRoutes.Path("/trackfiles/{id:[0-9]+}/points").
		Handler(ghandlers.CompressHandler(http.HandlerFunc(s.handlePoints))).Methods(http.MethodGet)

	apiJSONRoutes.Path("/jobs/{id}").HandlerFunc(s.handleGetJob).Methods(http.MethodGet)

	return router
}
