package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"fundflow"
	"fundflow/circuit"
	"fundflow/event"
	"fundflow/reconcile"
)

// AdminServer serves the operator HTTP surface: a JSON API under /api and a
// single status dashboard page.
type AdminServer struct {
	addr       string
	admin      *AdminImpl
	reconciler *reconcile.Worker
	breaker    circuit.Breaker
	eventStore *EventStore
	mux        *http.ServeMux
	server     *http.Server

	apiHandler *APIHandler
	statusTmpl *template.Template

	mu      sync.Mutex
	running bool
}

// AdminServerOption is a function that configures the AdminServer.
type AdminServerOption func(*AdminServer)

// WithAddr sets the server address.
func WithAddr(addr string) AdminServerOption {
	return func(s *AdminServer) {
		s.addr = addr
	}
}

// WithAdminImpl sets the admin implementation.
func WithAdminImpl(admin *AdminImpl) AdminServerOption {
	return func(s *AdminServer) {
		s.admin = admin
	}
}

// WithServerReconciler sets the reconciliation worker for the server.
func WithServerReconciler(w *reconcile.Worker) AdminServerOption {
	return func(s *AdminServer) {
		s.reconciler = w
	}
}

// WithServerBreaker sets the circuit breaker for the server.
func WithServerBreaker(breaker circuit.Breaker) AdminServerOption {
	return func(s *AdminServer) {
		s.breaker = breaker
	}
}

// WithEventStore sets the event store for the server.
func WithEventStore(eventStore *EventStore) AdminServerOption {
	return func(s *AdminServer) {
		s.eventStore = eventStore
	}
}

// NewAdminServer creates an admin server with the given options.
func NewAdminServer(opts ...AdminServerOption) *AdminServer {
	s := &AdminServer{
		addr:       ":8080",
		mux:        http.NewServeMux(),
		statusTmpl: template.Must(template.New("status").Parse(statusPageHTML)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.apiHandler = &APIHandler{
		admin:      s.admin,
		reconciler: s.reconciler,
		breaker:    s.breaker,
		events:     s.eventStore,
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all HTTP routes.
func (s *AdminServer) setupRoutes() {
	// Status dashboard
	s.mux.HandleFunc("GET /{$}", s.handleStatusPage)

	// API routes - Instance operations
	s.mux.HandleFunc("GET /api/instances", s.apiHandler.HandleListInstances)
	s.mux.HandleFunc("GET /api/instances/{workflowID}", s.apiHandler.HandleGetInstance)
	s.mux.HandleFunc("POST /api/instances/{workflowID}/acknowledge", s.apiHandler.HandleAcknowledge)

	// API routes - Stats
	s.mux.HandleFunc("GET /api/stats", s.apiHandler.HandleGetStats)
	s.mux.HandleFunc("GET /api/reconcile/stats", s.apiHandler.HandleGetReconcileStats)

	// API routes - Circuit breakers
	s.mux.HandleFunc("GET /api/circuit-breakers", s.apiHandler.HandleGetCircuitBreakers)
	s.mux.HandleFunc("POST /api/circuit-breakers/{collaborator}/reset", s.apiHandler.HandleResetCircuitBreaker)

	// API routes - Events
	s.mux.HandleFunc("GET /api/events", s.apiHandler.HandleListEvents)
}

// Start starts the server and blocks until it stops.
func (s *AdminServer) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}
	srv := s.server
	s.mu.Unlock()

	return srv.ListenAndServe()
}

// Stop stops the server gracefully.
func (s *AdminServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *AdminServer) Handler() http.Handler {
	return s.mux
}

// ============================================================================
// Status page
// ============================================================================

const statusPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>fundflow</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 12px; text-align: left; }
th { background: #f0f0f0; }
.warn { color: #b45309; }
.crit { color: #b91c1c; }
</style>
</head>
<body>
<h1>fundflow</h1>
<h2>Instances</h2>
<table>
<tr><th>Total</th><th>Active</th><th>Awaiting signal</th><th>Reconciling</th><th>Finalized</th><th>Failed</th><th>Rolled back</th><th>Needs operator</th></tr>
<tr><td>{{.Stats.TotalInstances}}</td><td>{{.Stats.ActiveInstances}}</td><td>{{.Stats.AwaitingSignal}}</td><td>{{.Stats.Reconciling}}</td><td>{{.Stats.Finalized}}</td><td>{{.Stats.Failed}}</td><td>{{.Stats.RolledBack}}</td><td>{{.Stats.NeedsOperator}}</td></tr>
</table>
<h2>Collaborators</h2>
<table>
<tr><th>Collaborator</th><th>State</th><th>Requests</th><th>Failures</th></tr>
{{range $name, $b := .Stats.Breakers}}<tr><td>{{$name}}</td><td>{{$b.State}}</td><td>{{$b.Counts.Requests}}</td><td>{{$b.Counts.TotalFailures}}</td></tr>
{{end}}</table>
<h2>Recent alerts</h2>
<table>
<tr><th>Time</th><th>Type</th><th>Workflow</th><th>Error</th></tr>
{{range .Alerts}}<tr><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.Type}}</td><td>{{.WorkflowID}}</td><td>{{.Error}}</td></tr>
{{end}}</table>
</body>
</html>
`

// statusPageData carries the dashboard model.
type statusPageData struct {
	Stats  *EngineStats
	Alerts []StoredEvent
}

// handleStatusPage renders the status dashboard.
func (s *AdminServer) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		http.Error(w, "admin not configured", http.StatusInternalServerError)
		return
	}

	stats, err := s.admin.GetStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := statusPageData{Stats: stats}
	if s.eventStore != nil {
		criticals := s.eventStore.List(EventFilter{Type: string(event.EventAlertCritical), Limit: 10})
		warnings := s.eventStore.List(EventFilter{Type: string(event.EventAlertWarning), Limit: 10})
		data.Alerts = append(criticals, warnings...)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.statusTmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ============================================================================
// API handlers
// ============================================================================

// APIHandler implements the JSON API.
type APIHandler struct {
	admin      *AdminImpl
	reconciler *reconcile.Worker
	breaker    circuit.Breaker
	events     *EventStore
}

// APIResponse is the uniform API envelope.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable error code with a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInstanceNotFound = "INSTANCE_NOT_FOUND"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response.
func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// HandleListInstances GET /api/instances
func (h *APIHandler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "admin not configured")
		return
	}

	filter := parseInstanceFilter(r)

	result, err := h.admin.ListInstances(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	response := InstanceListResponse{
		Instances:  make([]InstanceSummary, 0, len(result.Instances)),
		Total:      result.Total,
		Page:       (filter.Offset / filter.Limit) + 1,
		PageSize:   filter.Limit,
		TotalPages: int((result.Total + int64(filter.Limit) - 1) / int64(filter.Limit)),
	}

	for _, inst := range result.Instances {
		response.Instances = append(response.Instances, InstanceSummary{
			WorkflowID:        inst.WorkflowID,
			CorrelationID:     inst.CorrelationID,
			Kind:              string(inst.Kind),
			Status:            string(inst.Status),
			AccountKey:        inst.AccountKey,
			Amount:            inst.Amount,
			Currency:          inst.Currency,
			ReconcileAttempts: inst.ReconcileAttempts,
			ManualReview:      inst.ManualReview,
			CreatedAt:         inst.CreatedAt,
			UpdatedAt:         inst.UpdatedAt,
		})
	}

	writeSuccess(w, response)
}

// parseInstanceFilter parses query parameters into an InstanceFilter.
func parseInstanceFilter(r *http.Request) *fundflow.InstanceFilter {
	filter := fundflow.NewInstanceFilter().WithPagination(20, 0)

	if statuses := r.URL.Query()["status"]; len(statuses) > 0 {
		for _, s := range statuses {
			filter.WithStatus(fundflow.Status(s))
		}
	}

	if kind := r.URL.Query().Get("kind"); kind != "" {
		filter.WithKind(fundflow.Kind(kind))
	}

	if accountKey := r.URL.Query().Get("account_key"); accountKey != "" {
		filter.WithAccountKey(accountKey)
	}

	if review := r.URL.Query().Get("manual_review"); review != "" {
		filter.WithManualReview(review == "true" || review == "1")
	}

	if startTime := r.URL.Query().Get("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			filter.StartTime = t
		}
	}
	if endTime := r.URL.Query().Get("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			filter.EndTime = t
		}
	}

	if pageSize := r.URL.Query().Get("page_size"); pageSize != "" {
		var ps int
		fmt.Sscanf(pageSize, "%d", &ps)
		if ps > 0 && ps <= 100 {
			filter.Limit = ps
		}
	}
	if page := r.URL.Query().Get("page"); page != "" {
		var p int
		fmt.Sscanf(page, "%d", &p)
		if p > 0 {
			filter.Offset = (p - 1) * filter.Limit
		}
	}

	return filter
}

// HandleGetInstance GET /api/instances/{workflowID}
func (h *APIHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "admin not configured")
		return
	}

	workflowID := r.PathValue("workflowID")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "workflow ID is required")
		return
	}

	detail, err := h.admin.GetInstance(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, fundflow.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeInstanceNotFound, fmt.Sprintf("instance %s not found", workflowID))
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	response := InstanceDetailResponse{
		Instance: convertToInstanceView(detail.Instance),
		History:  make([]HistoryEntry, 0, len(detail.History)),
	}

	for _, ev := range detail.History {
		response.History = append(response.History, HistoryEntry{
			Seq:       ev.Seq,
			Phase:     string(ev.Phase),
			Activity:  ev.Activity,
			Outcome:   string(ev.Outcome),
			Class:     string(ev.Class),
			Attempts:  ev.Attempts,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt,
		})
	}

	writeSuccess(w, response)
}

// convertToInstanceView converts a WorkflowInstance to its API view.
func convertToInstanceView(inst *fundflow.WorkflowInstance) InstanceView {
	return InstanceView{
		WorkflowID:          inst.WorkflowID,
		CorrelationID:       inst.CorrelationID,
		Kind:                string(inst.Kind),
		Status:              string(inst.Status),
		UserID:              inst.UserID,
		AccountKey:          inst.AccountKey,
		Amount:              inst.Amount,
		Currency:            inst.Currency,
		TransferReference:   inst.TransferReference,
		AuthorizationHandle: inst.AuthorizationHandle,
		ReceiptID:           inst.ReceiptID,
		BrokerOperationID:   inst.BrokerOperationID,
		SignalDeadline:      inst.SignalDeadline,
		SignalReceivedAt:    inst.SignalReceivedAt,
		CurrentStep:         inst.CurrentStep,
		ReconcileAttempts:   inst.ReconcileAttempts,
		ManualReview:        inst.ManualReview,
		ErrorMsg:            inst.ErrorMsg,
		Version:             inst.Version,
		CreatedAt:           inst.CreatedAt,
		UpdatedAt:           inst.UpdatedAt,
		CompletedAt:         inst.CompletedAt,
		DeadlineAt:          inst.DeadlineAt,
	}
}

// HandleAcknowledge POST /api/instances/{workflowID}/acknowledge
func (h *APIHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "admin not configured")
		return
	}

	workflowID := r.PathValue("workflowID")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "workflow ID is required")
		return
	}

	var req AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Operator == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "operator is required")
		return
	}

	err := h.admin.Acknowledge(r.Context(), workflowID, req.Operator, req.Note)
	if err != nil {
		if errors.Is(err, fundflow.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeInstanceNotFound, fmt.Sprintf("instance %s not found", workflowID))
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidOperation, err.Error())
		return
	}

	writeSuccess(w, map[string]string{"message": "instance acknowledged"})
}

// HandleGetStats GET /api/stats
func (h *APIHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "admin not configured")
		return
	}

	stats, err := h.admin.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	response := StatsResponse{
		TotalInstances:  stats.TotalInstances,
		ActiveInstances: stats.ActiveInstances,
		AwaitingSignal:  stats.AwaitingSignal,
		Reconciling:     stats.Reconciling,
		Finalized:       stats.Finalized,
		Failed:          stats.Failed,
		RolledBack:      stats.RolledBack,
		NeedsOperator:   stats.NeedsOperator,
	}

	writeSuccess(w, response)
}

// HandleGetReconcileStats GET /api/reconcile/stats
func (h *APIHandler) HandleGetReconcileStats(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "reconcile worker not configured")
		return
	}

	stats := h.reconciler.Stats()
	cfg := h.reconciler.Config()

	response := ReconcileStatsResponse{
		IsRunning:      stats.IsRunning,
		ScannedCount:   stats.ScannedCount,
		ProcessedCount: stats.ProcessedCount,
		FailedCount:    stats.FailedCount,
		Config: ReconcileConfigInfo{
			Schedule:       cfg.Schedule,
			StuckThreshold: cfg.StuckThreshold.String(),
			MaxAttempts:    cfg.MaxAttempts,
		},
	}

	writeSuccess(w, response)
}

// HandleGetCircuitBreakers GET /api/circuit-breakers
func (h *APIHandler) HandleGetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "circuit breaker not configured")
		return
	}

	response := []CircuitBreakerInfo{}
	for _, name := range h.breaker.Collaborators() {
		cb := h.breaker.Get(name)
		counts := cb.Counts()
		response = append(response, CircuitBreakerInfo{
			Collaborator:         name,
			State:                cb.State().String(),
			Requests:             counts.Requests,
			TotalSuccesses:       counts.TotalSuccesses,
			TotalFailures:        counts.TotalFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
			ConsecutiveFailures:  counts.ConsecutiveFailures,
		})
	}

	writeSuccess(w, response)
}

// HandleResetCircuitBreaker POST /api/circuit-breakers/{collaborator}/reset
func (h *APIHandler) HandleResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "circuit breaker not configured")
		return
	}

	collaborator := r.PathValue("collaborator")
	if collaborator == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "collaborator name is required")
		return
	}

	cb := h.breaker.Get(collaborator)
	cb.Reset()

	writeSuccess(w, map[string]string{"message": fmt.Sprintf("circuit breaker %s reset", collaborator)})
}

// HandleListEvents GET /api/events
func (h *APIHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "event store not configured")
		return
	}

	filter := parseEventFilter(r)

	events := h.events.List(filter)
	total := h.events.Count(filter)

	response := EventsListResponse{
		Events:     events,
		Total:      total,
		EventTypes: h.events.GetEventTypes(),
	}

	writeSuccess(w, response)
}

// parseEventFilter parses query parameters into an EventFilter.
func parseEventFilter(r *http.Request) EventFilter {
	filter := EventFilter{
		Limit:  100,
		Offset: 0,
	}

	if eventType := r.URL.Query().Get("type"); eventType != "" {
		filter.Type = eventType
	}

	if workflowID := r.URL.Query().Get("workflow_id"); workflowID != "" {
		filter.WorkflowID = workflowID
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		var l int
		fmt.Sscanf(limit, "%d", &l)
		if l > 0 && l <= 1000 {
			filter.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		var o int
		fmt.Sscanf(offset, "%d", &o)
		if o >= 0 {
			filter.Offset = o
		}
	}

	return filter
}

// ============================================================================
// API Request/Response Models
// ============================================================================

// InstanceListResponse is the paginated instance list.
type InstanceListResponse struct {
	Instances  []InstanceSummary `json:"instances"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// InstanceSummary is the list row for one instance.
type InstanceSummary struct {
	WorkflowID        string    `json:"workflow_id"`
	CorrelationID     string    `json:"correlation_id"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	AccountKey        string    `json:"account_key"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	ReconcileAttempts int       `json:"reconcile_attempts"`
	ManualReview      bool      `json:"manual_review"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InstanceDetailResponse is one instance with its audit history.
type InstanceDetailResponse struct {
	Instance InstanceView   `json:"instance"`
	History  []HistoryEntry `json:"history"`
}

// InstanceView is the full instance record.
type InstanceView struct {
	WorkflowID          string     `json:"workflow_id"`
	CorrelationID       string     `json:"correlation_id"`
	Kind                string     `json:"kind"`
	Status              string     `json:"status"`
	UserID              string     `json:"user_id"`
	AccountKey          string     `json:"account_key"`
	Amount              int64      `json:"amount"`
	Currency            string     `json:"currency"`
	TransferReference   string     `json:"transfer_reference,omitempty"`
	AuthorizationHandle string     `json:"authorization_handle,omitempty"`
	ReceiptID           string     `json:"receipt_id,omitempty"`
	BrokerOperationID   string     `json:"broker_operation_id,omitempty"`
	SignalDeadline      *time.Time `json:"signal_deadline,omitempty"`
	SignalReceivedAt    *time.Time `json:"signal_received_at,omitempty"`
	CurrentStep         int        `json:"current_step"`
	ReconcileAttempts   int        `json:"reconcile_attempts"`
	ManualReview        bool       `json:"manual_review"`
	ErrorMsg            string     `json:"error_msg,omitempty"`
	Version             int        `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	DeadlineAt          *time.Time `json:"deadline_at,omitempty"`
}

// HistoryEntry is one audit history event.
type HistoryEntry struct {
	Seq       int       `json:"seq"`
	Phase     string    `json:"phase"`
	Activity  string    `json:"activity"`
	Outcome   string    `json:"outcome"`
	Class     string    `json:"class,omitempty"`
	Attempts  int       `json:"attempts"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatsResponse is the engine statistics payload.
type StatsResponse struct {
	TotalInstances  int64 `json:"total_instances"`
	ActiveInstances int64 `json:"active_instances"`
	AwaitingSignal  int64 `json:"awaiting_signal"`
	Reconciling     int64 `json:"reconciling"`
	Finalized       int64 `json:"finalized"`
	Failed          int64 `json:"failed"`
	RolledBack      int64 `json:"rolled_back"`
	NeedsOperator   int64 `json:"needs_operator"`
}

// ReconcileStatsResponse is the reconciliation worker statistics payload.
type ReconcileStatsResponse struct {
	IsRunning      bool                `json:"is_running"`
	ScannedCount   int64               `json:"scanned_count"`
	ProcessedCount int64               `json:"processed_count"`
	FailedCount    int64               `json:"failed_count"`
	Config         ReconcileConfigInfo `json:"config"`
}

// ReconcileConfigInfo is the reconciliation worker configuration view.
type ReconcileConfigInfo struct {
	Schedule       string `json:"schedule"`
	StuckThreshold string `json:"stuck_threshold"`
	MaxAttempts    int    `json:"max_attempts"`
}

// CircuitBreakerInfo is the observed state of one collaborator breaker.
type CircuitBreakerInfo struct {
	Collaborator         string `json:"collaborator"`
	State                string `json:"state"`
	Requests             int64  `json:"requests"`
	TotalSuccesses       int64  `json:"total_successes"`
	TotalFailures        int64  `json:"total_failures"`
	ConsecutiveSuccesses int64  `json:"consecutive_successes"`
	ConsecutiveFailures  int64  `json:"consecutive_failures"`
}

// AcknowledgeRequest is the operator acknowledgement payload.
type AcknowledgeRequest struct {
	Operator string `json:"operator"`
	Note     string `json:"note"`
}

// EventsListResponse is the event feed payload.
type EventsListResponse struct {
	Events     []StoredEvent `json:"events"`
	Total      int           `json:"total"`
	EventTypes []string      `json:"event_types"`
}
