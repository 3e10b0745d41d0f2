package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/vjranagit/solarmon/pkg/query"
	"github.com/vjranagit/solarmon/pkg/storage"
	"github.com/vjranagit/solarmon/pkg/types"
)

const maxIngestBody = 32 << 20

// Ingester accepts readings for storage
type Ingester interface {
	Write(ctx context.Context, req *types.WriteRequest) error
}

// Options configures the API server
type Options struct {
	Addr           string
	AllowedOrigins []string
	Timeout        time.Duration
	// Ingester receives POSTed readings; the storage is written directly when nil
	Ingester Ingester
	Logger   *slog.Logger
}

// Server implements the HTTP data API consumed by the dashboard
type Server struct {
	storage  storage.Storage
	ingester Ingester
	opts     Options
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(store storage.Storage, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ingester := opts.Ingester
	if ingester == nil {
		ingester = store
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Server{
		storage:  store,
		ingester: ingester,
		opts:     opts,
		log:      logger,
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.Timeout))

	r.Get("/health", s.handleHealth)
	r.Route("/_", func(r chi.Router) {
		r.Get("/topics", s.handleTopics)
		r.Get("/data", s.handleData)
		r.Post("/data", s.handleIngest)
		r.Get("/data/timestamp/earliest", s.handleTimestamp(true))
		r.Get("/data/timestamp/latest", s.handleTimestamp(false))
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	})
	return c.Handler(r)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.Timeout,
		WriteTimeout:      s.opts.Timeout,
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleTopics lists known topics
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.storage.Topics(r.Context())
	if err != nil {
		s.respondWithError(w, r, NewAPIError(ErrorCodeInternalServerError, err.Error(), nil, http.StatusInternalServerError))
		return
	}
	s.respondWithJSON(w, http.StatusOK, topics)
}

// handleTimestamp reports the earliest or latest stored reading time
func (s *Server) handleTimestamp(earliest bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		first, last, err := s.storage.Bounds(r.Context())
		if errors.Is(err, storage.ErrNoData) {
			s.respondWithError(w, r, NewAPIError(ErrorCodeNotFound, "no readings stored", nil, http.StatusNotFound))
			return
		}
		if err != nil {
			s.respondWithError(w, r, NewAPIError(ErrorCodeInternalServerError, err.Error(), nil, http.StatusInternalServerError))
			return
		}

		ts := last
		if earliest {
			ts = first
		}
		s.respondWithJSON(w, http.StatusOK, ts.UTC().Format(time.RFC3339Nano))
	}
}

// handleData returns the raw readings of one topic in a time range
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	req, apiErr := parseDataQuery(r)
	if apiErr != nil {
		s.respondWithError(w, r, *apiErr)
		return
	}

	result, err := s.storage.Query(r.Context(), req)
	if errors.Is(err, storage.ErrTopicNotFound) {
		s.respondWithError(w, r, NewAPIError(ErrorCodeResourceNotFound, err.Error(), map[string]int{"topic_id": req.TopicID}, http.StatusNotFound))
		return
	}
	if err != nil {
		s.respondWithError(w, r, NewAPIError(ErrorCodeInternalServerError, err.Error(), nil, http.StatusInternalServerError))
		return
	}

	s.log.DebugContext(r.Context(), "served readings",
		slog.Int("topic_id", req.TopicID), slog.Int("count", len(result.Readings)))
	s.respondWithJSON(w, http.StatusOK, result.Readings)
}

func parseDataQuery(r *http.Request) (*types.QueryRequest, *APIError) {
	values := r.URL.Query()

	missing := []string{}
	for _, key := range []string{query.ParamTopicID, query.ParamStartDateTime, query.ParamEndDateTime} {
		if values.Get(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		apiErr := NewAPIError(ErrorCodeMissingParameter, "missing query parameters", missing, http.StatusBadRequest)
		return nil, &apiErr
	}

	topicID, err := strconv.Atoi(values.Get(query.ParamTopicID))
	if err != nil {
		apiErr := NewAPIError(ErrorCodeInvalidFormat, fmt.Sprintf("invalid %s", query.ParamTopicID), values.Get(query.ParamTopicID), http.StatusBadRequest)
		return nil, &apiErr
	}

	start, err := types.ParseTimestampString(values.Get(query.ParamStartDateTime))
	if err != nil {
		apiErr := NewAPIError(ErrorCodeInvalidFormat, err.Error(), query.ParamStartDateTime, http.StatusBadRequest)
		return nil, &apiErr
	}

	end, err := types.ParseTimestampString(values.Get(query.ParamEndDateTime))
	if err != nil {
		apiErr := NewAPIError(ErrorCodeInvalidFormat, err.Error(), query.ParamEndDateTime, http.StatusBadRequest)
		return nil, &apiErr
	}

	if start.After(end) {
		apiErr := NewAPIError(ErrorCodeValidationFailed, query.ErrInvalidRange.Error()+": start is after end", nil, http.StatusBadRequest)
		return nil, &apiErr
	}

	return &types.QueryRequest{TopicID: topicID, StartTime: start, EndTime: end}, nil
}

// handleIngest accepts readings for one topic
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req types.WriteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&req); err != nil {
		code := ErrorCodeBadRequest
		if errors.Is(err, types.ErrInvalidReading) {
			code = ErrorCodeInvalidFormat
		}
		s.respondWithError(w, r, NewAPIError(code, fmt.Sprintf("invalid request: %v", err), nil, http.StatusBadRequest))
		return
	}

	if err := s.ingester.Write(r.Context(), &req); err != nil {
		if storage.IsPermanent(err) {
			s.respondWithError(w, r, NewAPIError(ErrorCodeValidationFailed, err.Error(), nil, http.StatusBadRequest))
			return
		}
		s.respondWithError(w, r, NewAPIError(ErrorCodeInternalServerError, fmt.Sprintf("write failed: %v", err), nil, http.StatusInternalServerError))
		return
	}

	s.respondWithJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"readings": len(req.Readings),
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
