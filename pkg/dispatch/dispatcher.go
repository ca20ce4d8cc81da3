package dispatch

import (
	"context"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/session"
)

// Initiator opens coaching sessions.
type Initiator interface {
	Initiate(ctx context.Context, in session.InitiateInput) (*session.Reply, error)
}

// Request is the payload of a dispatched call.
type Request struct {
	Input    string         `json:"input"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Params   map[string]any `json:"context,omitempty"`
}

// Response carries the outcome of either handler kind.
type Response struct {
	Route    Route                       `json:"route"`
	Analysis *Analysis                   `json:"analysis,omitempty"`
	Session  *domain.ConversationSession `json:"session,omitempty"`
	Reply    string                      `json:"reply,omitempty"`
}

// Dispatcher resolves a route and runs its handler.
type Dispatcher struct {
	table    *Table
	sessions Initiator
	analyzer *Analyzer
}

// NewDispatcher wires the route table to the two handler kinds.
func NewDispatcher(table *Table, sessions Initiator, analyzer *Analyzer) *Dispatcher {
	return &Dispatcher{table: table, sessions: sessions, analyzer: analyzer}
}

// Table returns the route table.
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Dispatch runs the handler bound to (method, path).
func (d *Dispatcher) Dispatch(ctx context.Context, method, path string, req Request) (*Response, error) {
	route, ok := d.table.Lookup(method, path)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "route", ID: method + " " + path}
	}

	switch route.Kind {
	case KindConversational:
		reply, err := d.sessions.Initiate(ctx, session.InitiateInput{
			Topic:    route.Topic,
			UserID:   req.UserID,
			TenantID: req.TenantID,
			Params:   req.Params,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Route: route, Session: reply.Session, Reply: reply.Text()}, nil
	default:
		analysis, err := d.analyzer.Analyze(ctx, AnalyzeInput{
			Topic:    route.Topic,
			Input:    req.Input,
			UserID:   req.UserID,
			TenantID: req.TenantID,
			Params:   req.Params,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Route: route, Analysis: analysis}, nil
	}
}
