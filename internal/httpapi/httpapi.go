/*
Package httpapi serves daemon state over HTTP: prometheus metrics, latest readings,
sensor states and simulator controls when running simulation
*/
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/fleet"
	"github.com/hjkoskel/sds011sampler/sds011sim"
)

type Source interface {
	Len() int
	Status() []fleet.SensorStatus
	Latest() []sds011.Reading
}

type Options struct {
	Metrics http.Handler                 //nil: no /metrics
	Sims    map[string]*sds011sim.Sensor //mounted under /sim/{name}/
}

func NewRouter(src Source, opts Options) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sensors": src.Len()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/readings", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, src.Latest())
	}).Methods(http.MethodGet)

	r.HandleFunc("/sensors", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, src.Status())
	}).Methods(http.MethodGet)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	for name, sim := range opts.Sims {
		sim.Routes(r.PathPrefix("/sim/" + name).Subrouter())
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Serve runs until ctx is done, then shuts down gracefully
func Serve(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(zap.NewStdLog(log).Writer(), h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http api listening", zap.String("addr", addr))
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
