package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/coachflow"
	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/internal/presentation/graph"
	"github.com/aretw0/coachflow/pkg/dispatch"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/session"
)

// GraphURIPrefix prefixes the graph resources: coachflow://graphs/{type}.
const GraphURIPrefix = "coachflow://graphs/"

// Sessions is the session surface exposed as tools.
type Sessions interface {
	Initiate(ctx context.Context, in session.InitiateInput) (*session.Reply, error)
	SendMessage(ctx context.Context, sessionID, text string) (*session.Reply, error)
	Pause(ctx context.Context, sessionID, reason string) (*domain.ConversationSession, error)
	Resume(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	Complete(ctx context.Context, sessionID string) (*domain.Extraction, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
}

// Analyzer runs single-shot analyses.
type Analyzer interface {
	Analyze(ctx context.Context, in dispatch.AnalyzeInput) (*dispatch.Analysis, error)
}

// Graphs looks up registered workflow graphs.
type Graphs interface {
	Graph(t domain.WorkflowType) (*domain.GraphDefinition, bool)
	Types() []domain.WorkflowType
}

// TurnResponse is the structured result of the tools that advance a conversation.
type TurnResponse struct {
	SessionID string   `json:"session_id" jsonschema_description:"Identifier to pass to the other session tools"`
	Status    string   `json:"status" jsonschema_description:"Lifecycle status of the session"`
	Phase     string   `json:"phase" jsonschema_description:"Current conversation phase"`
	Reply     string   `json:"reply" jsonschema_description:"Coach messages produced by this turn"`
	Done      bool     `json:"done" jsonschema_description:"True when the session can be completed"`
	Outputs   []string `json:"outputs"`
}

type InitiateArgs struct {
	Topic    string         `json:"topic"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

type MessageArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type SessionArgs struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

type AnalyzeArgs struct {
	Topic    string         `json:"topic"`
	Input    string         `json:"input"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// Server exposes coaching sessions and analyses as an MCP server.
type Server struct {
	sessions  Sessions
	analyzer  Analyzer
	graphs    Graphs
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithAnalyzer enables the analyze tool.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Server) { s.analyzer = a }
}

// WithGraphs enables the graph resources.
func WithGraphs(g Graphs) Option {
	return func(s *Server) { s.graphs = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP Server instance.
func NewServer(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("coachflow-mcp", strings.TrimSpace(coachflow.Version),
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("initiate_session",
		mcp.WithDescription("Start a coaching conversation on a topic such as 'values' or 'goals'. Returns the coach's opening messages."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Coaching topic")),
		mcp.WithString("user_id", mcp.Description("Caller identity")),
		mcp.WithString("tenant_id", mcp.Description("Caller tenant")),
		mcp.WithObject("context", mcp.Description("Extra prompt parameters")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleInitiate))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Answer the coach's last question."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("User answer")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get the full session including messages and workflow state."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), s.handleGetSession)

	s.mcpServer.AddTool(mcp.NewTool("pause_session",
		mcp.WithDescription("Pause a session. Messages are rejected until it is resumed."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("reason", mcp.Description("Why the session is paused")),
	), s.handlePause)

	s.mcpServer.AddTool(mcp.NewTool("resume_session",
		mcp.WithDescription("Resume a paused session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), s.handleResume)

	s.mcpServer.AddTool(mcp.NewTool("complete_session",
		mcp.WithDescription("Finish a conversation that reached its end and return the extracted values."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), s.handleComplete)

	if s.analyzer != nil {
		s.mcpServer.AddTool(mcp.NewTool("analyze",
			mcp.WithDescription("Run a single-shot analysis such as 'swot' or 'mission' on a text."),
			mcp.WithString("topic", mcp.Required(), mcp.Description("Analysis topic")),
			mcp.WithString("input", mcp.Required(), mcp.Description("Text to analyze")),
			mcp.WithString("user_id", mcp.Description("Caller identity")),
			mcp.WithString("tenant_id", mcp.Description("Caller tenant")),
			mcp.WithObject("context", mcp.Description("Extra prompt parameters")),
			mcp.WithOutputSchema[dispatch.Analysis](),
		), mcp.NewStructuredToolHandler(s.handleAnalyze))
	}
}

func turnResponse(reply *session.Reply) TurnResponse {
	return TurnResponse{
		SessionID: reply.Session.ID,
		Status:    string(reply.Session.Status),
		Phase:     string(reply.Session.Phase),
		Reply:     reply.Text(),
		Done:      reply.Done(),
		Outputs:   reply.Outputs,
	}
}

// toolError hides internal and provider details from the client.
func (s *Server) toolError(op string, err error) error {
	code := domain.ErrorCode(err)
	switch code {
	case domain.CodeInternal, domain.CodeAllProvidersFailed, domain.CodeWorkflowFailed:
		s.logger.Error("MCP "+op+" failed", "error", err)
		return fmt.Errorf("%s: %s", op, code)
	}
	return fmt.Errorf("%s: %s: %w", op, code, err)
}

func (s *Server) handleInitiate(ctx context.Context, _ mcp.CallToolRequest, args InitiateArgs) (TurnResponse, error) {
	reply, err := s.sessions.Initiate(ctx, session.InitiateInput{
		Topic:    args.Topic,
		UserID:   args.UserID,
		TenantID: args.TenantID,
		Params:   args.Context,
	})
	if err != nil {
		return TurnResponse{}, s.toolError("initiate_session", err)
	}
	return turnResponse(reply), nil
}

func (s *Server) handleSendMessage(ctx context.Context, _ mcp.CallToolRequest, args MessageArgs) (TurnResponse, error) {
	reply, err := s.sessions.SendMessage(ctx, args.SessionID, args.Text)
	if err != nil {
		return TurnResponse{}, s.toolError("send_message", err)
	}
	return turnResponse(reply), nil
}

func (s *Server) handleAnalyze(ctx context.Context, _ mcp.CallToolRequest, args AnalyzeArgs) (dispatch.Analysis, error) {
	analysis, err := s.analyzer.Analyze(ctx, dispatch.AnalyzeInput{
		Topic:    args.Topic,
		Input:    args.Input,
		UserID:   args.UserID,
		TenantID: args.TenantID,
		Params:   args.Context,
	})
	if err != nil {
		return dispatch.Analysis{}, s.toolError("analyze", err)
	}
	return *analysis, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionResult(request, "get_session", func(args SessionArgs) (any, error) {
		return s.sessions.Get(ctx, args.SessionID)
	})
}

func (s *Server) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionResult(request, "pause_session", func(args SessionArgs) (any, error) {
		return s.sessions.Pause(ctx, args.SessionID, args.Reason)
	})
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionResult(request, "resume_session", func(args SessionArgs) (any, error) {
		return s.sessions.Resume(ctx, args.SessionID)
	})
}

func (s *Server) handleComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionResult(request, "complete_session", func(args SessionArgs) (any, error) {
		return s.sessions.Complete(ctx, args.SessionID)
	})
}

// sessionResult binds the session arguments, runs fn and returns its value as JSON text.
func (s *Server) sessionResult(request mcp.CallToolRequest, op string, fn func(SessionArgs) (any, error)) (*mcp.CallToolResult, error) {
	var args SessionArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	v, err := fn(args)
	if err != nil {
		return mcp.NewToolResultError(s.toolError(op, err).Error()), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", op, err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	if s.graphs == nil {
		return
	}
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(GraphURIPrefix+"{type}", "Workflow graph",
		mcp.WithTemplateDescription("Mermaid diagram of a workflow graph (conversational or analysis)"),
		mcp.WithTemplateMIMEType("text/plain"),
	), s.readGraph)

	for _, t := range s.graphs.Types() {
		uri := GraphURIPrefix + string(t)
		s.mcpServer.AddResource(mcp.NewResource(uri, fmt.Sprintf("%s workflow graph", t),
			mcp.WithMIMEType("text/plain"),
		), s.readGraph)
	}
}

func (s *Server) readGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	typ := domain.WorkflowType(strings.TrimPrefix(uri, GraphURIPrefix))
	g, ok := s.graphs.Graph(typ)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "graph", ID: string(typ)}
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     graph.GenerateMermaid(g, nil),
		},
	}, nil
}
