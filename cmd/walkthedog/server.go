package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wippyai/wtd-bridge/bridge"
	wtderrors "github.com/wippyai/wtd-bridge/errors"
)

type stateResponse struct {
	State    string `json:"state"`
	Engine   string `json:"engine"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Terminal bool   `json:"terminal"`
}

func newRouter(h *host) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if h.bridge.State() == bridge.StateFailed {
			http.Error(w, "engine failed", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	})

	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		state := h.bridge.State()
		resp := stateResponse{
			State:    state.String(),
			Engine:   h.engine.Location(),
			Terminal: state.Terminal(),
		}
		if err := h.bridge.Err(); err != nil {
			resp.Error = err.Error()
			resp.Kind = string(wtderrors.KindOf(err))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	})

	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	return r
}

// serve runs the status server until ctx is done. The returned func shuts it
// down early.
func serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("status server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server", zap.Error(err))
		}
	}()

	stop := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx) //nolint:errcheck
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop
}
