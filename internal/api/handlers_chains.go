package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/vastchain/internal/fetch"
	"github.com/dgallion1/vastchain/internal/loader"
	"github.com/dgallion1/vastchain/internal/pipeline"
	"github.com/dgallion1/vastchain/internal/report"
)

const maxRequestBytes = 1 << 20

// chainRequest overrides the configured traversal defaults for one chain.
type chainRequest struct {
	URI         string `json:"uri"`
	MaxDepth    *int   `json:"max_depth,omitempty"`
	TimeoutMS   *int   `json:"timeout_ms,omitempty"`
	RetryCount  *int   `json:"retry_count,omitempty"`
	Credentials string `json:"credentials,omitempty"`

	NoSingleAdPods *bool `json:"no_single_ad_pods,omitempty"`
}

type batchRequest struct {
	URIs []string `json:"uris"`
	chainRequest
}

func (s *Server) loadConfig(req chainRequest) (loader.LoadConfig, error) {
	if err := validateURI(req.URI); err != nil {
		return loader.LoadConfig{}, err
	}
	cfg := s.cfg.LoadConfig(req.URI)
	if req.MaxDepth != nil {
		if *req.MaxDepth < 0 {
			return cfg, errors.New("max_depth must not be negative")
		}
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.TimeoutMS != nil {
		if *req.TimeoutMS <= 0 {
			return cfg, errors.New("timeout_ms must be positive")
		}
		cfg.Timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}
	if req.RetryCount != nil {
		if *req.RetryCount < 0 {
			return cfg, errors.New("retry_count must not be negative")
		}
		cfg.RetryCount = *req.RetryCount
	}
	if req.Credentials != "" {
		strategy, err := fetch.ParseStrategy(req.Credentials)
		if err != nil {
			return cfg, err
		}
		cfg.Credentials = strategy
	}
	if req.NoSingleAdPods != nil {
		cfg.NoSingleAdPods = *req.NoSingleAdPods
	}
	return cfg, nil
}

func validateURI(raw string) error {
	if raw == "" {
		return errors.New("uri is required")
	}
	if fetch.IsDataURI(raw) {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("uri has no host")
	}
	return nil
}

func (s *Server) handleCreateChain(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := s.loadConfig(req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.NewJob(cfg)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"uri":      cfg.URI,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/chains/%s", job.ID),
	})
}

func (s *Server) handleBatchChains(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.URIs) == 0 {
		jsonError(w, "at least one uri is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(req.URIs))
	for _, uri := range req.URIs {
		one := req.chainRequest
		one.URI = uri
		cfg, err := s.loadConfig(one)
		if err != nil {
			results = append(results, map[string]any{"uri": uri, "error": err.Error()})
			continue
		}

		job := pipeline.NewJob(cfg)
		if err := s.orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{"uri": uri, "error": err.Error()})
			continue
		}
		results = append(results, map[string]any{
			"uri":      uri,
			"job_id":   job.ID,
			"status":   pipeline.StatusQueued,
			"poll_url": fmt.Sprintf("/api/chains/%s", job.ID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": results})
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleChainReport(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	switch job.Snapshot().Status {
	case pipeline.StatusQueued, pipeline.StatusLoading:
		jsonError(w, "job still running", http.StatusConflict)
		return
	}

	loads, ads := job.Events()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.HTML(w, loads, ads); err != nil {
		s.log.Error("render report", "job_id", job.ID, "error", err)
	}
}

// queryRequest reads chain options from the query string.
func queryRequest(r *http.Request) (chainRequest, error) {
	q := r.URL.Query()
	req := chainRequest{URI: q.Get("uri"), Credentials: q.Get("credentials")}
	for name, dst := range map[string]**int{
		"max_depth":   &req.MaxDepth,
		"timeout_ms":  &req.TimeoutMS,
		"retry_count": &req.RetryCount,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &n
	}
	if v := q.Get("no_single_ad_pods"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("no_single_ad_pods: %w", err)
		}
		req.NoSingleAdPods = &b
	}
	return req, nil
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
