// Package router dispatches inbound chat messages: greeting, credential
// binding, or forwarding to the sender's bound AI provider. Exactly one
// reply is produced per handled message; an empty reply means the message
// was silently ignored.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bdobrica/hashi/common/redact"
	"github.com/bdobrica/hashi/common/trace"
	"github.com/bdobrica/hashi/internal/hashi/limiter"
	"github.com/bdobrica/hashi/internal/hashi/provider"
	"github.com/bdobrica/hashi/internal/hashi/session"
	"github.com/bdobrica/hashi/internal/hashi/store"
)

// greetingToken triggers the onboarding reply, matched case-insensitively.
const greetingToken = "hi"

// probePrompt is the throwaway prompt used to validate a submitted
// credential against the provider before binding it.
const probePrompt = "hi"

// Auditor records binding attempts. Satisfied by *store.Store.
type Auditor interface {
	WriteBindAudit(ctx context.Context, traceID, sender, providerName, keyDigest, result, errorMsg string) error
}

// NoopAuditor discards audit events; useful in tests.
type NoopAuditor struct{}

func (NoopAuditor) WriteBindAudit(context.Context, string, string, string, string, string, string) error {
	return nil
}

// Config carries the router's collaborators. All state is injected; the
// router itself keeps none beyond these references.
type Config struct {
	Registry *provider.Registry
	Gateway  provider.Completer
	Sessions *session.Store
	Limiter  *limiter.SubmissionLimiter
	Audit    Auditor
}

// Router is the per-message state machine. Safe for concurrent use to the
// extent its collaborators are.
type Router struct {
	registry *provider.Registry
	gateway  provider.Completer
	sessions *session.Store
	limiter  *limiter.SubmissionLimiter
	audit    Auditor
}

// New builds a Router. A nil Audit defaults to NoopAuditor.
func New(cfg Config) *Router {
	audit := cfg.Audit
	if audit == nil {
		audit = NoopAuditor{}
	}
	return &Router{
		registry: cfg.Registry,
		gateway:  cfg.Gateway,
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		audit:    audit,
	}
}

// Handle processes one inbound message and returns the reply to send, or ""
// when the message is ignored. Every error is converted into a reply here;
// nothing propagates to the transport loop.
func (r *Router) Handle(ctx context.Context, sender, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.EqualFold(text, greetingToken) {
		return msgOnboarding(r.registry.Names())
	}

	if strings.HasPrefix(text, "!") {
		return r.handleBind(ctx, sender, text)
	}

	return r.handleForward(ctx, sender, text)
}

// handleBind processes a "!<provider> <credential>" submission.
func (r *Router) handleBind(ctx context.Context, sender, text string) string {
	name, credential := splitBindCommand(text)

	if _, ok := r.registry.Get(name); !ok {
		return msgUnknownProvider(name, r.registry.Names())
	}

	if r.limiter.ShouldBlock(sender) {
		r.writeAudit(ctx, sender, name, "", store.BindResultBlocked, "")
		return msgRateLimited
	}

	if credential == "" {
		// Not a submission, so nothing is recorded against the limiter.
		return msgUsage(name)
	}

	// Validation probe: one cheap completion proves endpoint + credential.
	if _, err := r.gateway.Complete(ctx, name, credential, probePrompt); err != nil {
		r.limiter.RecordAttempt(sender)
		errMsg := redact.String(err.Error(), credential)
		r.writeAudit(ctx, sender, name, "", store.BindResultFailed, errMsg)
		slog.Warn("credential validation failed",
			"trace_id", trace.FromContext(ctx), "sender", sender, "provider", name, "err", errMsg)
		return bindFailureReply(name, err)
	}

	sess, err := r.sessions.Bind(sender, name, credential)
	if err != nil {
		// The credential was valid but could not be persisted; the sender is
		// not bound and should try again.
		slog.Error("session persist failed",
			"trace_id", trace.FromContext(ctx), "sender", sender, "provider", name, "err", err)
		return msgBindPersistFailed
	}

	r.limiter.Reset(sender)
	r.writeAudit(ctx, sender, name, sess.Key, store.BindResultOK, "")
	slog.Info("sender bound to provider",
		"trace_id", trace.FromContext(ctx), "sender", sender, "provider", name)
	return msgBound(name)
}

// handleForward relays free text from a bound sender to their provider.
func (r *Router) handleForward(ctx context.Context, sender, text string) string {
	sess, ok := r.sessions.Lookup(sender)
	if !ok {
		return msgPleaseBind
	}

	// A bound sender without a live credential means the process restarted
	// since the bind; only the digest survived.
	credential, ok := r.sessions.Credential(sender)
	if !ok {
		return msgRebind(sess.AI)
	}

	reply, err := r.gateway.Complete(ctx, sess.AI, credential, text)
	if err != nil {
		slog.Warn("completion failed",
			"trace_id", trace.FromContext(ctx), "sender", sender, "provider", sess.AI,
			"err", redact.String(err.Error(), credential))
		return forwardFailureReply(sess.AI, err)
	}
	return reply
}

// writeAudit records a bind attempt, logging rather than failing on error.
func (r *Router) writeAudit(ctx context.Context, sender, name, digest, result, errMsg string) {
	if err := r.audit.WriteBindAudit(ctx, trace.FromContext(ctx), sender, name, digest, result, errMsg); err != nil {
		slog.Warn("bind audit write failed", "sender", sender, "provider", name, "err", err)
	}
}

// splitBindCommand splits "!grok sk-..." into ("grok", "sk-..."). The
// credential is empty when the command has no argument.
func splitBindCommand(text string) (name, credential string) {
	body := strings.TrimPrefix(text, "!")
	parts := strings.SplitN(body, " ", 2)
	name = parts[0]
	if len(parts) == 2 {
		credential = strings.TrimSpace(parts[1])
	}
	return name, credential
}
