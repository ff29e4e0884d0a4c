// server.go
package querier

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gigapi/gigapi-config/config"
	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/gigapi/gigapi-insitu/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the API server
type Server struct {
	Client Client
}

func GetRootDir() string {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir != "" {
		return dataDir
	}
	dataDir = config.Config.Gigapi.Root
	if dataDir != "" {
		return dataDir
	}
	return "./data"
}

// NewServer creates a new server instance
func NewServer(client Client) *Server {
	return &Server{Client: client}
}

// QueryResponse represents a query API response
type QueryResponse struct {
	Total   int64            `json:"total"`
	Results []map[string]any `json:"results"`
}

// DatasetsResponse lists the served datasets
type DatasetsResponse struct {
	Datasets []string `json:"datasets"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

var reqId int32

// addCORSHeaders adds CORS headers to the response
func addCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Expose-Headers", "X-Total-Count")
}

// parseParams reads query parameters from the URL for GET and from a JSON
// document body for POST.
func parseParams(r *http.Request) (*insitu.QueryParameters, error) {
	if r.Method == http.MethodGet {
		return insitu.ParseQueryValues(r.URL.Query())
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.ErrValidation("", "failed to read request body: %v", err)
	}
	return insitu.ParseQueryJSON(body)
}

// preflight writes the CORS headers and reports whether the request still
// needs handling.
func preflight(w http.ResponseWriter, r *http.Request, handler string) bool {
	addCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		metrics.RequestTotal.WithLabelValues(handler, strconv.Itoa(http.StatusMethodNotAllowed)).Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// HandleQuery Handles the /query endpoint
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	if !preflight(w, r, "query") {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	formatter, ok := formatters[format]
	if !ok {
		sendError(w, "query", core.ErrValidation("format", "unsupported format %q", format))
		return
	}

	params, err := parseParams(r)
	if err != nil {
		sendError(w, "query", err)
		return
	}

	res, err := s.Client.Query(ctx, r.URL.Query().Get("dataset"), params)
	if err != nil {
		core.Errorf(ctx, "Query failed: %v", err)
		sendError(w, "query", err)
		return
	}

	metrics.RequestTotal.WithLabelValues("query", "200").Inc()
	if err := formatter(ctx, res, w); err != nil {
		core.Errorf(ctx, "Failed to write %s response: %v", format, err)
	}
}

// HandleStatistics Handles the /statistics endpoint
func (s *Server) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	if !preflight(w, r, "statistics") {
		return
	}

	params, err := parseParams(r)
	if err != nil {
		sendError(w, "statistics", err)
		return
	}

	summary, err := s.Client.Statistics(ctx, r.URL.Query().Get("dataset"), params)
	if err != nil {
		core.Errorf(ctx, "Statistics failed: %v", err)
		sendError(w, "statistics", err)
		return
	}

	metrics.RequestTotal.WithLabelValues("statistics", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// HandleDatasets Handles the /datasets endpoint
func (s *Server) HandleDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
	if !preflight(w, r, "datasets") {
		return
	}

	datasets, err := s.Client.Datasets(ctx)
	if err != nil {
		core.Errorf(ctx, "Listing datasets failed: %v", err)
		sendError(w, "datasets", err)
		return
	}

	metrics.RequestTotal.WithLabelValues("datasets", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DatasetsResponse{Datasets: datasets})
}

// StatusCode maps an error to the HTTP status reported to clients.
func StatusCode(err error) int {
	switch {
	case core.IsValidation(err):
		return http.StatusBadRequest
	case core.IsIndexUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Send an error response in JSON format
func sendError(w http.ResponseWriter, handler string, err error) {
	code := StatusCode(err)
	metrics.RequestTotal.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: err.Error(),
	})
}

// Health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	addCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Routes registers the API handlers on mux, including /metrics.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/query", s.HandleQuery)
	mux.HandleFunc("/statistics", s.HandleStatistics)
	mux.HandleFunc("/datasets", s.HandleDatasets)
	mux.Handle("/metrics", promhttp.Handler())
}

// Close the server and release resources
func (s *Server) Close() error {
	if c, ok := s.Client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
