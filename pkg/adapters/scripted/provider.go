// Package scripted provides a deterministic ProviderAdapter for tests, demos
// and offline development. Replies are chosen by matching rules against the
// system prompt and the last message.
package scripted

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// ErrUnavailable is returned by a provider configured to fail.
var ErrUnavailable = errors.New("scripted provider unavailable")

// Rule replies with Reply when Match is a substring of the system prompt or
// the last message. An empty Match always applies.
type Rule struct {
	Match string
	Reply string
}

// Responder computes a reply from the request. ok=false defers to the rules.
type Responder func(req ports.ProviderRequest) (reply string, ok bool)

// Provider is a deterministic ProviderAdapter.
type Provider struct {
	name      string
	models    map[string]bool
	rules     []Rule
	fail      error
	health    error
	echo      bool
	responder Responder

	mu    sync.Mutex
	calls []ports.ProviderRequest
}

// Option configures the Provider.
type Option func(*Provider)

// WithModels sets the capability set. The default supports any model.
func WithModels(models ...string) Option {
	return func(p *Provider) {
		p.models = make(map[string]bool, len(models))
		for _, m := range models {
			p.models[m] = true
		}
	}
}

// WithRule appends a reply rule. Rules are evaluated in order.
func WithRule(match, reply string) Option {
	return func(p *Provider) {
		p.rules = append(p.rules, Rule{Match: match, Reply: reply})
	}
}

// WithFailure makes every Infer call return err.
func WithFailure(err error) Option {
	return func(p *Provider) {
		p.fail = err
	}
}

// WithHealth sets the error returned by Health.
func WithHealth(err error) Option {
	return func(p *Provider) {
		p.health = err
	}
}

// WithResponder consults fn before the rules.
func WithResponder(fn Responder) Option {
	return func(p *Provider) {
		p.responder = fn
	}
}

// WithEcho replies with the last message when no rule matches.
func WithEcho() Option {
	return func(p *Provider) {
		p.echo = true
	}
}

// New creates a scripted provider.
func New(name string, opts ...Option) *Provider {
	p := &Provider{name: name}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Supports(model string) bool {
	return p.models == nil || p.models[model]
}

func (p *Provider) Health(ctx context.Context) error { return p.health }

// Infer records the request and returns the first matching rule's reply.
// Token counts are word counts so cost estimates stay deterministic.
func (p *Provider) Infer(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.fail != nil {
		return nil, p.fail
	}

	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}

	reply, ok := "", false
	if p.responder != nil {
		reply, ok = p.responder(req)
	}
	for _, r := range p.rules {
		if ok {
			break
		}
		if r.Match == "" || strings.Contains(req.SystemPrompt, r.Match) || strings.Contains(last, r.Match) {
			reply, ok = r.Reply, true
			break
		}
	}
	if !ok {
		if !p.echo {
			return nil, ErrUnavailable
		}
		reply = last
	}

	in := len(strings.Fields(req.SystemPrompt))
	for _, m := range req.Messages {
		in += len(strings.Fields(m.Content))
	}
	return &ports.ProviderResponse{
		Text:         reply,
		Model:        req.Model,
		InputTokens:  in,
		OutputTokens: len(strings.Fields(reply)),
	}, nil
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []ports.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.ProviderRequest(nil), p.calls...)
}

// CallCount returns the number of Infer calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Descriptor returns a healthy descriptor for p with a zero-priced default model.
func Descriptor(name string, priority int, model string) domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Name:         name,
		Kind:         "scripted",
		Priority:     priority,
		DefaultModel: model,
		Models:       map[string]domain.ModelPrice{model: {}},
		Healthy:      true,
	}
}
