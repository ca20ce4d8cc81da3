// Package cli implements the interactive terminal client of coachflow.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/internal/presentation/tui"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/session"
)

// Sessions is the part of the session manager the chat client drives.
type Sessions interface {
	Initiate(ctx context.Context, in session.InitiateInput) (*session.Reply, error)
	SendMessage(ctx context.Context, sessionID, text string) (*session.Reply, error)
	Pause(ctx context.Context, sessionID, reason string) (*domain.ConversationSession, error)
	Resume(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	Recover(ctx context.Context, sessionID string) (*session.Reply, error)
	Complete(ctx context.Context, sessionID string) (*domain.Extraction, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
}

// ChatOptions configures a chat run.
type ChatOptions struct {
	Topic    string
	UserID   string
	TenantID string
	// SessionID resumes an existing session instead of starting one.
	SessionID string
	Params    map[string]any

	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	// Render formats coach messages. Defaults to tui.NewRenderer.
	Render func(string) (string, error)
	Quiet  bool
}

const chatHelp = "Commands: /pause, /done (finish now), /quit (leave, session is kept), /help"

// RunChat runs an interactive coaching conversation until it completes, the
// user quits or ctx is cancelled.
func RunChat(ctx context.Context, sessions Sessions, opts ChatOptions) error {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Render == nil {
		opts.Render = tui.NewRenderer()
	}
	c := &chat{sessions: sessions, opts: opts, out: opts.Out}

	reply, err := c.open(ctx)
	if err != nil {
		return handleExecutionError(err)
	}
	c.id = reply.Session.ID
	if !opts.Quiet {
		printSystemMessage(c.out, "Session '%s' active. %s", c.id, chatHelp)
	}
	c.show(reply.Outputs)

	scanner := bufio.NewScanner(NewInterruptibleReader(opts.In, ctx.Done()))
	for !reply.Done() {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			c.leave()
			return handleExecutionError(errors.Join(scanner.Err(), ctx.Err()))
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/help":
			printSystemMessage(c.out, chatHelp)
			continue
		case "/quit", "/exit":
			c.leave()
			return nil
		case "/pause":
			if _, err := sessions.Pause(ctx, c.id, "paused from chat"); err != nil {
				return err
			}
			printSystemMessage(c.out, "Session paused. Resume with: coachflow chat --session %s", c.id)
			return nil
		case "/done":
			return c.complete(ctx)
		}

		next, err := sessions.SendMessage(ctx, c.id, line)
		switch domain.ErrorCode(err) {
		case "":
		case domain.CodeValidation:
			printSystemMessage(c.out, "%v", err)
			continue
		default:
			opts.Logger.Error("Message failed", "session_id", c.id, "err", err)
			return handleExecutionError(err)
		}
		reply = next
		c.show(reply.Outputs)
	}

	return c.complete(ctx)
}

type chat struct {
	sessions Sessions
	opts     ChatOptions
	out      io.Writer
	id       string
}

// open starts a new session or reattaches to opts.SessionID, resuming it when
// paused and recovering an interrupted turn.
func (c *chat) open(ctx context.Context) (*session.Reply, error) {
	if c.opts.SessionID == "" {
		return c.sessions.Initiate(ctx, session.InitiateInput{
			Topic:    c.opts.Topic,
			UserID:   c.opts.UserID,
			TenantID: c.opts.TenantID,
			Params:   c.opts.Params,
		})
	}

	sess, err := c.sessions.Get(ctx, c.opts.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.LifecyclePaused {
		if sess, err = c.sessions.Resume(ctx, sess.ID); err != nil {
			return nil, err
		}
	}
	if sess.Workflow != nil && sess.Workflow.Status == domain.StatusRunning {
		return c.sessions.Recover(ctx, sess.ID)
	}

	reply := &session.Reply{Session: sess}
	// Repeat the pending question so the user knows where they left off.
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == domain.RoleAssistant {
			reply.Outputs = []string{sess.Messages[i].Content}
			break
		}
	}
	return reply, nil
}

func (c *chat) show(outputs []string) {
	for _, text := range outputs {
		rendered, err := c.opts.Render(text)
		if err != nil {
			c.opts.Logger.Debug("Render failed", "err", err)
		}
		fmt.Fprintf(c.out, "%s %s\n", tui.Coach("coach:"), strings.TrimSpace(rendered))
	}
}

func (c *chat) leave() {
	if !c.opts.Quiet {
		printSystemMessage(c.out, "Session '%s' kept. Continue with: coachflow chat --session %s", c.id, c.id)
	}
}

func (c *chat) complete(ctx context.Context) error {
	extraction, err := c.sessions.Complete(ctx, c.id)
	if err != nil {
		if domain.ErrorCode(err) == domain.CodeNotReady {
			printSystemMessage(c.out, "The conversation is not finished yet; keep answering.")
			return nil
		}
		return err
	}
	printExtraction(c.out, extraction)
	return nil
}

func printExtraction(w io.Writer, e *domain.Extraction) {
	fmt.Fprintln(w)
	printSystemMessage(w, "Your %s", e.Topic)
	for i, v := range e.Values {
		fmt.Fprintf(w, "%d. %s", i+1, v.Label)
		if v.Definition != "" {
			fmt.Fprintf(w, " - %s", v.Definition)
		}
		fmt.Fprintln(w)
		for _, b := range v.Behaviors {
			fmt.Fprintf(w, "   %s\n", tui.Muted("• "+b))
		}
	}
	if e.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", e.Summary)
	}
}
