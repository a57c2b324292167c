package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	sourcer "github.com/zombar/imagesourcer"
	"github.com/zombar/imagesourcer/db"
	"github.com/zombar/imagesourcer/metrics"
	"github.com/zombar/imagesourcer/models"
	"github.com/zombar/imagesourcer/providers"
	"github.com/zombar/imagesourcer/storage"
)

// Queue defines the queue and catalog reads the API serves directly,
// outside the sourcing pipeline. *db.DB satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, sourceURL string, productID *string) (*models.QueueItem, error)
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	ListQueueItems(ctx context.Context, limit, offset int) ([]*models.QueueItem, error)
	GetQueueStats(ctx context.Context) (*db.QueueStats, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	Close() error
}

// Pipeline defines the sourcing operations the API triggers
type Pipeline interface {
	ProcessQueue(ctx context.Context) (*models.BatchResult, error)
	BulkScan(ctx context.Context) (*models.ScanResult, error)
	Approve(ctx context.Context, productID string) error
	Reject(ctx context.Context, productID, notes string) error
	RequestRescrape(ctx context.Context, productID string) error
}

// Server represents the API server
type Server struct {
	queue       Queue
	pipeline    Pipeline
	database    *db.DB // nil when constructed with injected dependencies
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr          string
	DBConfig      db.Config
	SourcerConfig sourcer.Config
	CORSEnabled   bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		SourcerConfig: sourcer.DefaultConfig(),
		CORSEnabled:   true,
	}
}

// NewServer creates a new API server wired to Postgres, the given object
// store, and the stock provider chain
func NewServer(config Config, objects storage.ObjectStore) (*Server, error) {
	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	chain := providers.NewChain(
		providers.NewBingProvider(nil),
		providers.NewDuckDuckGoProvider(nil),
	)
	pipeline := sourcer.New(config.SourcerConfig, database, objects, chain, providers.DefaultPlaceholders())

	s := newServer(config, database, pipeline)
	s.database = database
	return s, nil
}

// DB returns the underlying database for connection-pool metrics
func (s *Server) DB() *db.DB {
	return s.database
}

// UpdateQueueMetrics refreshes the queue depth gauges
func (s *Server) UpdateQueueMetrics(ctx context.Context) {
	stats, err := s.queue.GetQueueStats(ctx)
	if err != nil {
		log.Printf("Failed to update queue metrics: %v", err)
		return
	}
	metrics.SetQueueDepth(string(models.StatusPending), stats.Pending)
	metrics.SetQueueDepth(string(models.StatusProcessing), stats.Processing)
	metrics.SetQueueDepth(string(models.StatusCompleted), stats.Completed)
	metrics.SetQueueDepth(string(models.StatusFailed), stats.Failed)
}

// newServer wires a server from already-constructed dependencies
func newServer(config Config, queue Queue, pipeline Pipeline) *Server {
	s := &Server{
		queue:       queue,
		pipeline:    pipeline,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.middleware(otelhttp.NewHandler(s.mux, "imagesourcer-api")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Allow time for batch runs
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/queue", s.handleQueue)
	s.mux.HandleFunc("/api/queue/run", s.handleQueueRun)
	s.mux.HandleFunc("/api/queue/", s.handleQueueItem) // Handles /api/queue/{id}
	s.mux.HandleFunc("/api/scan/run", s.handleScanRun)
	s.mux.HandleFunc("/api/products/", s.handleProduct) // Handles /api/products/{id} and review actions
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.queue.Close()
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Logging (skip health and metrics scrapes to reduce noise)
		start := time.Now()
		quiet := r.URL.Path == "/health" || r.URL.Path == "/metrics"
		if !quiet {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}

		next.ServeHTTP(w, r)

		if !quiet {
			log.Printf("%s %s - completed in %v", r.Method, r.URL.Path, time.Since(start))
		}
	})
}

// handleHealth returns server health status with queue depth
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"queue": map[string]int{
			"pending":    stats.Pending,
			"processing": stats.Processing,
			"completed":  stats.Completed,
			"failed":     stats.Failed,
		},
		"time": time.Now(),
	})
}

// handleQueue handles enqueueing (POST) and listing (GET)
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleEnqueue(w, r)
	case http.MethodGet:
		s.handleListQueue(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleEnqueue registers a new sourcing request
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SourceURL == "" {
		respondError(w, http.StatusBadRequest, "source_url is required")
		return
	}

	// Reject attachments to products that don't exist rather than letting
	// the queue item fail later
	if req.ProductID != nil && *req.ProductID != "" {
		product, err := s.queue.GetProduct(r.Context(), *req.ProductID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "database error")
			return
		}
		if product == nil {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
	}

	item, err := s.queue.Enqueue(r.Context(), req.SourceURL, req.ProductID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

// handleListQueue lists queue items with pagination
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		fmt.Sscanf(offsetStr, "%d", &offset)
	}

	// Enforce reasonable limits
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.queue.ListQueueItems(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"count":  len(items),
		"limit":  limit,
		"offset": offset,
	})
}

// handleQueueItem retrieves a single queue item by ID
func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	item, err := s.queue.GetQueueItem(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "queue item not found")
		return
	}

	respondJSON(w, http.StatusOK, item)
}

// handleQueueRun triggers one queue batch
func (s *Server) handleQueueRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := s.pipeline.ProcessQueue(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("queue run failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleScanRun triggers a bulk scan over products without images
func (s *Server) handleScanRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := s.pipeline.BulkScan(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("scan failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleProduct routes product reads and review actions
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/products/")
	if path == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		s.handleReviewAction(w, r, id, "approve")
		return
	}
	if id, ok := strings.CutSuffix(path, "/reject"); ok {
		s.handleReviewAction(w, r, id, "reject")
		return
	}
	if id, ok := strings.CutSuffix(path, "/rescrape"); ok {
		s.handleReviewAction(w, r, id, "rescrape")
		return
	}

	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleGetProduct(w, r, path)
}

// handleGetProduct retrieves a product by ID
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request, id string) {
	product, err := s.queue.GetProduct(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if product == nil {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}

	respondJSON(w, http.StatusOK, product)
}

// handleReviewAction applies an operator review decision to a product
func (s *Server) handleReviewAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	var err error
	switch action {
	case "approve":
		err = s.pipeline.Approve(r.Context(), id)
	case "reject":
		var req models.ReviewRequest
		// The notes body is optional
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			req.Notes = ""
		}
		err = s.pipeline.Reject(r.Context(), id, req.Notes)
	case "rescrape":
		err = s.pipeline.RequestRescrape(r.Context(), id)
	}

	if err != nil {
		if strings.Contains(err.Error(), "no product found") {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		if strings.Contains(err.Error(), "no images") {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed: %v", action, err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": action + " applied successfully",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
