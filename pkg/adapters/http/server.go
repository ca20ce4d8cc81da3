package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/coachflow"
	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/internal/presentation/graph"
	"github.com/aretw0/coachflow/pkg/dispatch"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/session"
)

// Sessions is the conversational surface served over HTTP.
type Sessions interface {
	Initiate(ctx context.Context, in session.InitiateInput) (*session.Reply, error)
	SendMessage(ctx context.Context, sessionID, text string) (*session.Reply, error)
	Pause(ctx context.Context, sessionID, reason string) (*domain.ConversationSession, error)
	Resume(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	Complete(ctx context.Context, sessionID string) (*domain.Extraction, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	List(ctx context.Context) ([]string, error)
}

// Analyzer runs single-shot analyses.
type Analyzer interface {
	Analyze(ctx context.Context, in dispatch.AnalyzeInput) (*dispatch.Analysis, error)
}

// Graphs looks up registered workflow graphs.
type Graphs interface {
	Graph(t domain.WorkflowType) (*domain.GraphDefinition, bool)
}

// ProviderStatus reports the health of the inference providers.
type ProviderStatus interface {
	Status(ctx context.Context) []domain.ProviderStatus
}

// Server holds the collaborators behind the HTTP surface. Only Sessions is required.
type Server struct {
	Sessions   Sessions
	Analyzer   Analyzer
	Dispatcher *dispatch.Dispatcher
	Graphs     Graphs
	Providers  ProviderStatus
	Metrics    http.Handler
	Streams    *StreamManager
	Logger     *slog.Logger
}

// NewHandler creates the HTTP handler for s.
func NewHandler(s *Server) http.Handler {
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager().WithLogger(s.Logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.InitiateSession)
		r.Get("/", s.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Post("/messages", s.SendMessage)
			r.Post("/pause", s.PauseSession)
			r.Post("/resume", s.ResumeSession)
			r.Post("/complete", s.CompleteSession)
			r.Get("/graph", s.GetSessionGraph)
			r.Get("/events", s.SubscribeEvents)
		})
	})

	if s.Analyzer != nil {
		r.Post("/analyze", s.Analyze)
	}
	if s.Graphs != nil {
		r.Get("/graphs/{type}", s.GetGraph)
	}
	if s.Providers != nil {
		r.Get("/providers/status", s.GetProviderStatus)
	}
	if s.Dispatcher != nil {
		for _, route := range s.Dispatcher.Table().Routes() {
			r.Method(route.Method, route.Path, s.dispatchHandler(route))
		}
		r.Get("/routes", s.ListRoutes)
	}

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Tenant-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InitiateRequest is the body of POST /sessions.
type InitiateRequest struct {
	Topic    string         `json:"topic"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// PauseRequest is the optional body of POST /sessions/{id}/pause.
type PauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Topic    string         `json:"topic"`
	Input    string         `json:"input"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// TurnResponse is returned by the calls that advance a conversation.
type TurnResponse struct {
	SessionID string                 `json:"session_id"`
	Status    domain.LifecycleStatus `json:"status"`
	Phase     domain.Phase           `json:"phase"`
	Reply     string                 `json:"reply"`
	Outputs   []string               `json:"outputs"`
	Done      bool                   `json:"done"`
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func turnResponse(reply *session.Reply) TurnResponse {
	outputs := reply.Outputs
	if outputs == nil {
		outputs = []string{}
	}
	return TurnResponse{
		SessionID: reply.Session.ID,
		Status:    reply.Session.Status,
		Phase:     reply.Session.Phase,
		Reply:     reply.Text(),
		Outputs:   outputs,
		Done:      reply.Done(),
	}
}

// InitiateSession handles POST /sessions.
func (s *Server) InitiateSession(w http.ResponseWriter, r *http.Request) {
	var body InitiateRequest
	if !s.decode(w, r, &body, false) {
		return
	}
	userID, tenantID := identity(r, body.UserID, body.TenantID)

	reply, err := s.Sessions.Initiate(r.Context(), session.InitiateInput{
		Topic:    body.Topic,
		UserID:   userID,
		TenantID: tenantID,
		Params:   body.Context,
	})
	if err != nil {
		s.writeError(w, "InitiateSession", err)
		return
	}
	s.publish(reply)
	s.writeJSON(w, http.StatusCreated, turnResponse(reply))
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		s.writeError(w, "ListSessions", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, "GetSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// SendMessage handles POST /sessions/{id}/messages.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if !s.decode(w, r, &body, false) {
		return
	}
	reply, err := s.Sessions.SendMessage(r.Context(), chi.URLParam(r, "id"), body.Text)
	if err != nil {
		s.writeError(w, "SendMessage", err)
		return
	}
	s.publish(reply)
	s.writeJSON(w, http.StatusOK, turnResponse(reply))
}

// PauseSession handles POST /sessions/{id}/pause.
func (s *Server) PauseSession(w http.ResponseWriter, r *http.Request) {
	var body PauseRequest
	if !s.decode(w, r, &body, true) {
		return
	}
	sess, err := s.Sessions.Pause(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeError(w, "PauseSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// ResumeSession handles POST /sessions/{id}/resume.
func (s *Server) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, "ResumeSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// CompleteSession handles POST /sessions/{id}/complete.
func (s *Server) CompleteSession(w http.ResponseWriter, r *http.Request) {
	extraction, err := s.Sessions.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, "CompleteSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, extraction)
}

// GetSessionGraph handles GET /sessions/{id}/graph, rendering the workflow
// graph with the visited and current nodes highlighted.
func (s *Server) GetSessionGraph(w http.ResponseWriter, r *http.Request) {
	if s.Graphs == nil {
		s.writeError(w, "GetSessionGraph", &domain.NotFoundError{Kind: "graph", ID: string(domain.WorkflowConversational)})
		return
	}
	sess, err := s.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, "GetSessionGraph", err)
		return
	}
	g, ok := s.Graphs.Graph(domain.WorkflowConversational)
	if !ok {
		s.writeError(w, "GetSessionGraph", &domain.NotFoundError{Kind: "graph", ID: string(domain.WorkflowConversational)})
		return
	}
	writeMermaid(w, graph.GenerateMermaid(g, graph.OverlayFor(sess.Workflow)))
}

// GetGraph handles GET /graphs/{type}.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	typ := domain.WorkflowType(chi.URLParam(r, "type"))
	g, ok := s.Graphs.Graph(typ)
	if !ok {
		s.writeError(w, "GetGraph", &domain.NotFoundError{Kind: "graph", ID: string(typ)})
		return
	}
	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, http.StatusOK, g)
		return
	}
	writeMermaid(w, graph.GenerateMermaid(g, nil))
}

func writeMermaid(w http.ResponseWriter, diagram string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, diagram)
}

// Analyze handles POST /analyze.
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if !s.decode(w, r, &body, false) {
		return
	}
	userID, tenantID := identity(r, body.UserID, body.TenantID)

	analysis, err := s.Analyzer.Analyze(r.Context(), dispatch.AnalyzeInput{
		Topic:    body.Topic,
		Input:    body.Input,
		UserID:   userID,
		TenantID: tenantID,
		Params:   body.Context,
	})
	if err != nil {
		s.writeError(w, "Analyze", err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

// dispatchHandler serves one entry of the route table.
func (s *Server) dispatchHandler(route dispatch.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dispatch.Request
		if !s.decode(w, r, &body, true) {
			return
		}
		body.UserID, body.TenantID = identity(r, body.UserID, body.TenantID)

		resp, err := s.Dispatcher.Dispatch(r.Context(), route.Method, route.Path, body)
		if err != nil {
			s.writeError(w, "Dispatch", err)
			return
		}
		status := http.StatusOK
		if resp.Session != nil {
			status = http.StatusCreated
		}
		s.writeJSON(w, status, resp)
	}
}

// ListRoutes handles GET /routes.
func (s *Server) ListRoutes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dispatch.RoutesFile{Routes: s.Dispatcher.Table().Routes()})
}

// GetProviderStatus handles GET /providers/status.
func (s *Server) GetProviderStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": s.Providers.Status(r.Context())})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "coachflow-http",
		"version": strings.TrimSpace(coachflow.Version),
	})
}

// SubscribeEvents handles GET /sessions/{id}/events (SSE). Each event is the
// state diff produced by a turn of the session.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := s.Sessions.Get(r.Context(), sessionID); err != nil {
		s.writeError(w, "SubscribeEvents", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()
	s.Logger.Info("SSE: Subscribing to session updates", "session_id", sessionID)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Info("SSE client disconnected", "session_id", sessionID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) publish(reply *session.Reply) {
	if reply.Delta == nil {
		return
	}
	data, err := json.Marshal(reply.Delta)
	if err != nil {
		s.Logger.Warn("failed to encode state diff", "session_id", reply.Session.ID, "error", err)
		return
	}
	s.Streams.Broadcast(reply.Session.ID, string(data))
}

// identity prefers the body fields and falls back to the X-User-ID and
// X-Tenant-ID headers set by the upstream auth layer.
func identity(r *http.Request, userID, tenantID string) (string, string) {
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if tenantID == "" {
		tenantID = r.Header.Get("X-Tenant-ID")
	}
	return userID, tenantID
}

// decode reads a JSON body into v. optional accepts an empty body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	s.Logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: domain.CodeValidation, Message: "invalid request body"})
	return false
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code string) int {
	switch code {
	case domain.CodeNotFound, domain.CodeTemplateNotFound:
		return http.StatusNotFound
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeInvalidState, domain.CodeNotReady, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeAllProvidersFailed:
		return http.StatusBadGateway
	case domain.CodeWorkflowFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError reports err without leaking provider, node or storage details on failures.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	code := domain.ErrorCode(err)
	status := StatusFor(code)
	msg := err.Error()
	switch code {
	case domain.CodeInternal:
		s.Logger.Error(op+" failed", "error", err)
		msg = "internal error"
	case domain.CodeAllProvidersFailed:
		s.Logger.Error(op+" failed", "error", err)
		msg = "no inference provider could serve the request"
	case domain.CodeWorkflowFailed:
		s.Logger.Error(op+" failed", "error", err)
		msg = "the workflow failed; start a new session"
	default:
		s.Logger.Debug(op+" rejected", "code", code, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "error", err)
	}
}
