package router_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/hashi/common/crypto"
	"github.com/bdobrica/hashi/internal/hashi/limiter"
	"github.com/bdobrica/hashi/internal/hashi/provider"
	"github.com/bdobrica/hashi/internal/hashi/router"
	"github.com/bdobrica/hashi/internal/hashi/session"
)

const alice = "@alice:example.com"

// fakeGateway is a test double for provider.Completer that records calls.
type fakeGateway struct {
	reply string
	err   error
	calls []gatewayCall
}

type gatewayCall struct {
	provider   string
	credential string
	prompt     string
}

func (f *fakeGateway) Complete(_ context.Context, name, credential, prompt string) (string, error) {
	f.calls = append(f.calls, gatewayCall{provider: name, credential: credential, prompt: prompt})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

var _ provider.Completer = (*fakeGateway)(nil)

func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg, err := provider.Parse([]byte(`{
		"ais": {
			"grok": {"endpoint": "https://api.x.ai/v1/chat/completions", "payload": {"model": "grok-2-latest"}},
			"chatgpt": {"endpoint": "https://api.openai.com/v1/chat/completions", "payload": {"model": "gpt-4o-mini"}}
		}
	}`), false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return reg
}

type fixture struct {
	router   *router.Router
	gateway  *fakeGateway
	sessions *session.Store
	path     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	sessions := session.NewStore(path)
	if err := sessions.Load(); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{reply: "pong"}
	r := router.New(router.Config{
		Registry: testRegistry(t),
		Gateway:  gw,
		Sessions: sessions,
		Limiter:  limiter.New(3, time.Hour),
	})
	return &fixture{router: r, gateway: gw, sessions: sessions, path: path}
}

func TestGreeting_NoSessionCreated(t *testing.T) {
	f := newFixture(t)

	reply := f.router.Handle(context.Background(), alice, "hi")
	if !strings.Contains(reply, "Hashi") || !strings.Contains(reply, "!grok <api-key>") {
		t.Errorf("onboarding reply: %q", reply)
	}
	if f.sessions.Count() != 0 {
		t.Error("greeting must not create a session")
	}
	if len(f.gateway.calls) != 0 {
		t.Error("greeting must not call the provider")
	}
}

func TestGreeting_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"Hi", "HI", "  hi  "} {
		if reply := f.router.Handle(context.Background(), alice, text); !strings.Contains(reply, "Hashi") {
			t.Errorf("%q should greet, got %q", text, reply)
		}
	}
}

func TestEmptyText_Ignored(t *testing.T) {
	f := newFixture(t)
	if reply := f.router.Handle(context.Background(), alice, "   "); reply != "" {
		t.Errorf("blank message should be ignored, got %q", reply)
	}
}

func TestBind_Success(t *testing.T) {
	f := newFixture(t)

	reply := f.router.Handle(context.Background(), alice, "!grok sk-123")
	if !strings.Contains(reply, "Logged in with grok") {
		t.Errorf("bind reply: %q", reply)
	}

	// The probe goes to the right provider with the supplied key.
	if len(f.gateway.calls) != 1 {
		t.Fatalf("gateway calls: got %d, want 1", len(f.gateway.calls))
	}
	probe := f.gateway.calls[0]
	if probe.provider != "grok" || probe.credential != "sk-123" || probe.prompt != "hi" {
		t.Errorf("probe call: %+v", probe)
	}

	// The session holds the digest, never the plaintext.
	sess, ok := f.sessions.Lookup(alice)
	if !ok {
		t.Fatal("session should exist after bind")
	}
	if sess.AI != "grok" || sess.Key != crypto.Digest("sk-123") {
		t.Errorf("session: %+v", sess)
	}
}

func TestBind_UnknownProvider(t *testing.T) {
	f := newFixture(t)

	reply := f.router.Handle(context.Background(), alice, "!claude sk-123")
	if !strings.Contains(reply, "Unknown AI: claude") {
		t.Errorf("reply: %q", reply)
	}
	if !strings.Contains(reply, "!grok") || !strings.Contains(reply, "!chatgpt") {
		t.Errorf("reply should list configured providers: %q", reply)
	}
	if len(f.gateway.calls) != 0 {
		t.Error("unknown provider must not reach the gateway")
	}
	if f.sessions.Count() != 0 {
		t.Error("unknown provider must not create a session")
	}
}

func TestBind_MissingCredential(t *testing.T) {
	f := newFixture(t)

	reply := f.router.Handle(context.Background(), alice, "!grok")
	if !strings.Contains(reply, "Usage: !grok") {
		t.Errorf("reply: %q", reply)
	}
	if len(f.gateway.calls) != 0 {
		t.Error("missing credential must not reach the gateway")
	}
}

func TestBind_InvalidKey(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = &provider.UpstreamError{
		Category:   provider.CategoryInvalidCredential,
		Message:    "Incorrect API key provided",
		Code:       "invalid_api_key",
		HTTPStatus: 401,
	}

	reply := f.router.Handle(context.Background(), alice, "!grok sk-bad")
	if reply != "Invalid API key. Please check your key and try again." {
		t.Errorf("reply: %q", reply)
	}
	if f.sessions.Count() != 0 {
		t.Error("failed bind must not create a session")
	}
}

func TestBind_RateLimited_NoNetworkCall(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = &provider.UpstreamError{
		Category: provider.CategoryInvalidCredential,
		Message:  "bad key",
		Code:     "invalid_api_key",
	}

	// 4 failed attempts within the window.
	for i := 0; i < 4; i++ {
		f.router.Handle(context.Background(), alice, "!grok sk-bad")
	}
	callsBefore := len(f.gateway.calls)
	if callsBefore != 4 {
		t.Fatalf("precondition: got %d probe calls, want 4", callsBefore)
	}

	// The 5th attempt is blocked before any network call.
	reply := f.router.Handle(context.Background(), alice, "!grok sk-bad")
	if reply != "Too many key attempts! Try again in an hour." {
		t.Errorf("reply: %q", reply)
	}
	if len(f.gateway.calls) != callsBefore {
		t.Error("blocked attempt must not reach the gateway")
	}
}

func TestBind_SuccessResetsLimiter(t *testing.T) {
	f := newFixture(t)

	// 3 failures, then a success, then failures should start counting anew.
	f.gateway.err = &provider.UpstreamError{Category: provider.CategoryInvalidCredential, Code: "invalid_api_key"}
	for i := 0; i < 3; i++ {
		f.router.Handle(context.Background(), alice, "!grok sk-bad")
	}
	f.gateway.err = nil
	if reply := f.router.Handle(context.Background(), alice, "!grok sk-good"); !strings.Contains(reply, "Logged in") {
		t.Fatalf("bind should succeed, got %q", reply)
	}

	// After the reset, four more failed attempts are allowed before a block.
	f.gateway.err = &provider.UpstreamError{Category: provider.CategoryInvalidCredential, Code: "invalid_api_key"}
	for i := 0; i < 4; i++ {
		reply := f.router.Handle(context.Background(), alice, "!grok sk-bad")
		if reply == "Too many key attempts! Try again in an hour." {
			t.Fatalf("blocked too early on attempt %d after reset", i+1)
		}
	}
}

func TestBind_Rebind_SwitchesProvider(t *testing.T) {
	f := newFixture(t)

	f.router.Handle(context.Background(), alice, "!grok sk-1")
	reply := f.router.Handle(context.Background(), alice, "!chatgpt sk-2")
	if !strings.Contains(reply, "Logged in with chatgpt") {
		t.Fatalf("rebind reply: %q", reply)
	}

	sess, _ := f.sessions.Lookup(alice)
	if sess.AI != "chatgpt" {
		t.Errorf("provider after rebind: %q", sess.AI)
	}

	// Forwards now go to the new provider with the new key.
	f.router.Handle(context.Background(), alice, "What is 2+2?")
	last := f.gateway.calls[len(f.gateway.calls)-1]
	if last.provider != "chatgpt" || last.credential != "sk-2" {
		t.Errorf("forward after rebind: %+v", last)
	}
}

func TestForward_Unbound(t *testing.T) {
	f := newFixture(t)
	reply := f.router.Handle(context.Background(), alice, "What is 2+2?")
	if reply != `Please set your API key (e.g., "!grok <key>").` {
		t.Errorf("reply: %q", reply)
	}
	if len(f.gateway.calls) != 0 {
		t.Error("unbound sender must not reach the gateway")
	}
}

func TestForward_UsesBoundCredentialAndRelaysVerbatim(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), alice, "!grok sk-123")

	f.gateway.reply = "2+2 equals 4."
	reply := f.router.Handle(context.Background(), alice, "What is 2+2?")
	if reply != "2+2 equals 4." {
		t.Errorf("forward reply not relayed verbatim: %q", reply)
	}

	call := f.gateway.calls[len(f.gateway.calls)-1]
	if call.provider != "grok" {
		t.Errorf("provider: %q", call.provider)
	}
	// The originally bound credential is used, never the message text.
	if call.credential != "sk-123" {
		t.Errorf("credential: got %q, want the bound key", call.credential)
	}
	if call.prompt != "What is 2+2?" {
		t.Errorf("prompt: %q", call.prompt)
	}
}

func TestForward_QuotaExceededTemplate(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), alice, "!chatgpt sk-123")

	f.gateway.err = &provider.UpstreamError{
		Category:   provider.CategoryQuotaExceeded,
		Message:    "You exceeded your current quota",
		Code:       "insufficient_quota",
		HTTPStatus: 429,
	}
	reply := f.router.Handle(context.Background(), alice, "hello there")
	if !strings.Contains(reply, "Quota exceeded on your OpenAI account") ||
		!strings.Contains(reply, "platform.openai.com") {
		t.Errorf("reply: %q", reply)
	}
}

func TestForward_InsufficientCreditTemplate(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), alice, "!grok sk-123")

	f.gateway.err = &provider.UpstreamError{
		Category:   provider.CategoryInsufficientCredit,
		Message:    "Your team doesn't have any credits",
		HTTPStatus: 403,
	}
	reply := f.router.Handle(context.Background(), alice, "hello")
	if !strings.Contains(reply, "Insufficient credits on your xAI account") ||
		!strings.Contains(reply, "console.x.ai") {
		t.Errorf("reply: %q", reply)
	}
}

func TestForward_NetworkErrorTemplate(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), alice, "!grok sk-123")

	f.gateway.err = &provider.UpstreamError{Category: provider.CategoryNetwork, Message: "dial tcp: refused", Code: "network_error"}
	reply := f.router.Handle(context.Background(), alice, "hello")
	if reply != "Network error while contacting the AI. Please check your connection and try again." {
		t.Errorf("reply: %q", reply)
	}
}

func TestForward_AfterRestart_AsksForRebind(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), alice, "!grok sk-123")

	// Simulate a restart: reload the session file into a fresh store. The
	// binding survives, the live credential does not.
	reloaded := session.NewStore(f.path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{}
	r := router.New(router.Config{
		Registry: testRegistry(t),
		Gateway:  gw,
		Sessions: reloaded,
		Limiter:  limiter.New(3, time.Hour),
	})

	reply := r.Handle(context.Background(), alice, "What is 2+2?")
	if !strings.Contains(reply, "re-send \"!grok <key>\"") {
		t.Errorf("reply: %q", reply)
	}
	if len(gw.calls) != 0 {
		t.Error("restart without live credential must not reach the gateway")
	}
}

func TestSendersAreIndependent(t *testing.T) {
	f := newFixture(t)
	const bob = "@bob:example.com"

	f.router.Handle(context.Background(), alice, "!grok sk-a")
	f.router.Handle(context.Background(), bob, "!chatgpt sk-b")

	f.router.Handle(context.Background(), alice, "question from alice")
	f.router.Handle(context.Background(), bob, "question from bob")

	aliceCall := f.gateway.calls[len(f.gateway.calls)-2]
	bobCall := f.gateway.calls[len(f.gateway.calls)-1]
	if aliceCall.provider != "grok" || aliceCall.credential != "sk-a" {
		t.Errorf("alice forward: %+v", aliceCall)
	}
	if bobCall.provider != "chatgpt" || bobCall.credential != "sk-b" {
		t.Errorf("bob forward: %+v", bobCall)
	}
}
