package bill

import (
	"log/slog"
	"net/http"
)

// Server exposes the store and the capture workflow as a JSON API
type Server struct {
	store      *Store
	workflow   *Workflow
	aggregator *Aggregator
	messages   Translator
	timeSource TimeSource
	mux        *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(store *Store, workflow *Workflow, aggregator *Aggregator, messages Translator) *Server {
	return NewServerWithMux(store, workflow, aggregator, messages, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(store *Store, workflow *Workflow, aggregator *Aggregator, messages Translator, mux *http.ServeMux) *Server {
	s := &Server{
		store:      store,
		workflow:   workflow,
		aggregator: aggregator,
		messages:   messages,
		timeSource: &defaultTimeSource{},
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Literal segments win over {id}
	s.mux.HandleFunc("GET /api/bills/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/bills/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/bills/{id}/file", s.handleGetBillFile)
	s.mux.HandleFunc("POST /api/bills/{id}/forwarded", s.handleToggleForwarded)
	s.mux.HandleFunc("GET /api/bills/{id}", s.handleGetBill)
	s.mux.HandleFunc("DELETE /api/bills/{id}", s.handleDeleteBill)
	s.mux.HandleFunc("GET /api/bills", s.handleListBills)

	s.mux.HandleFunc("GET /api/workflow", s.handleWorkflowView)
	s.mux.HandleFunc("POST /api/workflow/scan", s.handleScan)
	s.mux.HandleFunc("POST /api/workflow/capture", s.handleStartCapture)
	s.mux.HandleFunc("POST /api/workflow/capture/image", s.handleSubmitImage)
	s.mux.HandleFunc("POST /api/workflow/manual", s.handleStartManual)
	s.mux.HandleFunc("PUT /api/workflow/draft", s.handleUpdateDraft)
	s.mux.HandleFunc("POST /api/workflow/draft/forwarded", s.handleSetDraftForwarded)
	s.mux.HandleFunc("POST /api/workflow/commit", s.handleCommit)
	s.mux.HandleFunc("POST /api/workflow/cancel", s.handleCancel)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, corsMiddleware(s.mux))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.mux).ServeHTTP(w, r)
}
