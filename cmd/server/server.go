package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/app"
	"github.com/fractal-lba/healthxai/internal/predlog"
)

const defaultPageSize = 50

// Server exposes the application over HTTP.
type Server struct {
	app     *app.App
	limiter *rate.Limiter
	metrics http.Handler
}

// NewServer builds the HTTP layer around a.
func NewServer(a *app.App) *Server {
	s := &Server{app: a, metrics: promhttp.Handler()}
	if r := a.Config.Server.TokenRate; r > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(r), r*2)
	}
	return s
}

// Routes returns the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/predict", s.limited(s.handlePredict))
	mux.HandleFunc("POST /api/explain", s.limited(s.handleExplain))
	mux.HandleFunc("POST /api/explain/local", s.limited(s.handleExplainLocal))
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.Handle("GET /api/predictions", s.adminOnly(http.HandlerFunc(s.handleListPredictions)))
	mux.Handle("GET /api/predictions/{id}", s.adminOnly(http.HandlerFunc(s.handleGetPrediction)))
	mux.Handle("GET /metrics", s.adminOnly(s.metrics))
	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.app.Metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "10")
			respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

// adminOnly wraps h with basic auth. Without configured credentials the
// admin routes are closed.
func (s *Server) adminOnly(h http.Handler) http.Handler {
	user, pass := s.app.Config.Server.AdminUser, s.app.Config.Server.AdminPass
	if user == "" || pass == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusUnauthorized, "admin access disabled: no credentials configured")
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="healthxai"`)
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.ServeHTTP(w, r)
	})
}

// decodeRequest accepts either a JSON body or a submitted form.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (app.PredictRequest, error) {
	limit := s.app.Config.Server.MaxRequestSize
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req api.PredictRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(limit); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return app.PredictRequest{}, fmt.Errorf("invalid form: %w", err)
		}
		req.Model = r.Form.Get("model")
		req.IncludeLocal, _ = strconv.ParseBool(r.Form.Get("include_local"))
		req.Fields = make(map[string]any, len(r.Form))
		for k := range r.Form {
			req.Fields[k] = r.Form.Get(k)
		}
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return app.PredictRequest{}, fmt.Errorf("failed to read body: %w", err)
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return app.PredictRequest{}, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	if q := r.URL.Query().Get("include_local"); q != "" {
		req.IncludeLocal, _ = strconv.ParseBool(q)
	}

	form := make(map[string]string, len(req.Fields))
	for k, v := range req.Fields {
		switch x := v.(type) {
		case string:
			form[k] = x
		case float64:
			form[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case nil:
		default:
			form[k] = fmt.Sprint(x)
		}
	}
	row, err := api.PrepareInput(form)
	if err != nil {
		return app.PredictRequest{}, err
	}
	return app.PredictRequest{
		Model:        strings.TrimSpace(req.Model),
		Input:        row,
		IncludeLocal: req.IncludeLocal,
		ClientIP:     clientIP(r),
	}, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.app.Predict(r.Context(), req)
	if err != nil {
		s.app.Logger.Error("prediction failed", "model", req.Model, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.app.Explain(r.Context(), req.Model, req.Input)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleExplainLocal(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.app.ExplainLocal(r.Context(), req.Model, req.Input)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	out := []api.ModelInfo{}
	for _, name := range s.app.Registry.Names() {
		rp, ok := s.app.Registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, api.ModelInfo{
			Name:     name,
			Classes:  rp.Pipeline.Classes(),
			SHA256:   rp.BinaryHash,
			Default:  name == s.app.Config.Models.Default,
			Fields:   api.SchemaColumns(),
			Required: api.UserFields,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.app.Store.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.app.Store.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
		"predictions": recs,
	})
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.app.Store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, predlog.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, api.ErrorResponse{Success: false, Error: msg})
}
