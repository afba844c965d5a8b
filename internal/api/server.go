package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/fx"

	lberrs "github.com/jdholdren/lodgebook/internal/errors"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
	"github.com/jdholdren/lodgebook/internal/serverutil"
	"github.com/jdholdren/lodgebook/internal/sync"
)

type (
	// Trigger starts a sync run and waits for its result. It's either the
	// in-process syncer or a durable workflow.
	Trigger interface {
		RunSync(ctx context.Context, id string) (sync.Result, error)
	}

	Server struct {
		*http.Server

		repo    lodgebook.Repository
		trigger Trigger
	}

	ServerConfig struct {
		Port       int
		CorsOrigin string
	}

	Params struct {
		fx.In

		Config  ServerConfig
		Repo    lodgebook.Repository
		Trigger Trigger
	}
)

// NewServer builds the server and ties it to the app lifecycle.
func NewServer(lc fx.Lifecycle, p Params) *Server {
	srvr := New(p.Config, p.Repo, p.Trigger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("error listening", "error", err)
				}
			}()

			slog.Info("started api server", "port", p.Config.Port)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srvr.Shutdown(ctx)
		},
	})

	return srvr
}

func New(config ServerConfig, repo lodgebook.Repository, trigger Trigger) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	srvr := &Server{
		repo:    repo,
		trigger: trigger,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// A manual sync waits on the upstream feed.
			WriteTimeout: time.Minute,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/api/healthz", srvr.getHealthz).Methods(http.MethodGet)

	r.HandleFuncE("/api/sync-configurations", srvr.postSyncConfiguration).Methods(http.MethodPost)
	r.HandleFuncE("/api/sync-configurations", srvr.getSyncConfigurations).Methods(http.MethodGet)
	r.HandleFuncE("/api/sync-configurations/{id}", srvr.getSyncConfiguration).Methods(http.MethodGet)
	r.HandleFuncE("/api/sync-configurations/{id}", srvr.patchSyncConfiguration).Methods(http.MethodPatch)
	r.HandleFuncE("/api/sync-configurations/{id}", srvr.deleteSyncConfiguration).Methods(http.MethodDelete)

	// Sync now
	r.HandleFuncE("/api/sync-configurations/{id}/sync", srvr.postSync).Methods(http.MethodPost)
	r.HandleFuncE("/api/sync-configurations/{id}/bookings", srvr.getBookings).Methods(http.MethodGet)

	return srvr
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Translates repository errors into transport errors.
func repoErr(err error) error {
	switch {
	case errors.Is(err, lodgebook.ErrNotFound):
		return lberrs.E(http.StatusNotFound, "sync configuration not found")
	case errors.Is(err, lodgebook.ErrConflict):
		return lberrs.E(http.StatusConflict, "property already has a sync configuration for that url")
	}

	return err
}
