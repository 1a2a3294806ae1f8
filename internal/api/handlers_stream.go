package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/vastchain/internal/loader"
	"github.com/dgallion1/vastchain/internal/stream"
)

func (s *Server) handleStreamAds(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.queryConfig(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	streamNDJSON(s, w, r, s.orchestrator.Loader().LoadAds(cfg))
}

func (s *Server) handleStreamLoads(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.queryConfig(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	streamNDJSON(s, w, r, s.orchestrator.Loader().Load(cfg))
}

func (s *Server) queryConfig(r *http.Request) (loader.LoadConfig, error) {
	req, err := queryRequest(r)
	if err != nil {
		return loader.LoadConfig{}, err
	}
	return s.loadConfig(req)
}

// streamNDJSON writes one JSON line per value and flushes after each, so
// clients see events as soon as their position in the chain is settled.
func streamNDJSON[T any](s *Server, w http.ResponseWriter, r *http.Request, src stream.Source[T]) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	count := 0
	err := src(r.Context(), func(v T) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		count++
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.log.Info("stream cancelled by client", "path", r.URL.Path, "events", count)
	default:
		s.log.Error("stream failed", "path", r.URL.Path, "events", count, "error", err)
		enc.Encode(map[string]string{"error": err.Error()})
	}
}
