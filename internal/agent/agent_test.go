package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"basenames-agent-go/internal/fulfillment"
	"basenames-agent-go/internal/models"
	"basenames-agent-go/internal/naming"
	"basenames-agent-go/internal/ratelimit"
	"basenames-agent-go/internal/store"
	"basenames-agent-go/internal/watcher"

	"github.com/shopspring/decimal"
)

const (
	agentInbox  = "agent-inbox"
	userInbox   = "user-1"
	userConvo   = "convo-1"
	testDeposit = "0x1111111111111111111111111111111111111111"
	testPayer   = "0x2222222222222222222222222222222222222222"
)

type fakeRegistry struct {
	mu      sync.Mutex
	taken   map[string]bool
	err     error
	lookups int
}

func (f *fakeRegistry) IsAvailable(_ context.Context, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return false, f.err
	}
	return !f.taken[label], nil
}

type fakeDeriver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDeriver) Allocate(_ context.Context, requesterId, name string) (*models.Allocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Allocation{
		RequesterId:    requesterId,
		Name:           name,
		DerivationPath: requesterId + "-" + name,
		DepositAddress: testDeposit,
		Price:          naming.DefaultPricing().Quote(name),
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	}, nil
}

// gatedWatcher blocks each watch until a result is released or the task is cancelled.
type gatedWatcher struct {
	results chan watchOutcome
}

type watchOutcome struct {
	result *models.PaymentResult
	err    error
}

func (g *gatedWatcher) WatchUntil(ctx context.Context, _ string, _ decimal.Decimal, _ time.Time) (*models.PaymentResult, error) {
	select {
	case out := <-g.results:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeRegistrar struct {
	hash string
	err  error
}

func (f *fakeRegistrar) SubmitRegistration(_ context.Context, _, _, _, _ string) (string, error) {
	return f.hash, f.err
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }

type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSender) Send(_ context.Context, _, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func (r *recordingSender) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func (r *recordingSender) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.messages, "\n---\n")
}

type testAgent struct {
	agent     *Agent
	registry  *fakeRegistry
	allocator *fakeDeriver
	ledger    *store.MemoryStore
	watcher   *gatedWatcher
	orch      *fulfillment.Orchestrator
	sender    *recordingSender
}

func setupTestAgent(t *testing.T) *testAgent {
	t.Helper()

	h := &testAgent{
		registry:  &fakeRegistry{taken: map[string]bool{}},
		allocator: &fakeDeriver{},
		ledger:    store.NewMemoryStore(),
		watcher:   &gatedWatcher{results: make(chan watchOutcome, 1)},
		sender:    &recordingSender{},
	}
	h.orch = fulfillment.NewOrchestrator(fulfillment.OrchestratorConfig{
		Watcher:     h.watcher,
		Registrar:   &fakeRegistrar{hash: "0xabc123"},
		Ledger:      h.ledger,
		Notifier:    h.sender,
		ExplorerURL: "https://basescan.org",
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.orch.Stop(ctx)
	})

	h.agent = New(Config{
		InboxId:     agentInbox,
		Naming:      naming.NewService(h.registry, naming.DefaultPricing()),
		Allocator:   h.allocator,
		Ledger:      h.ledger,
		Fulfiller:   h.orch,
		Sender:      h.sender,
		Limiter:     allowAll{},
		ExplorerURL: "https://basescan.org",
	})
	return h
}

func (h *testAgent) say(content string) {
	h.agent.Handle(context.Background(), models.InboundMessage{
		Id:             "msg",
		Kind:           models.KindMessage,
		SenderInboxId:  userInbox,
		ConversationId: userConvo,
		Content:        content,
		SentAt:         time.Now(),
	})
}

func waitForStatus(t *testing.T, ledger store.RequestStore, name, status string) *models.DepositRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req, err := ledger.Latest(context.Background(), userInbox, name)
		if err == nil && req.Status == status {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request for %s never reached status %s", name, status)
	return nil
}

func waitForMessage(t *testing.T, sender *recordingSender, fragment string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(sender.all(), fragment) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message containing %q, got:\n%s", fragment, sender.all())
}

func TestBuy_RecordsPendingRequest(t *testing.T) {
	h := setupTestAgent(t)

	h.say("buy cool.base.eth")

	reply := h.sender.last()
	if !strings.Contains(reply, testDeposit) {
		t.Fatalf("reply should contain the deposit address, got %q", reply)
	}
	if !strings.Contains(reply, "0.011 ETH") {
		t.Errorf("reply should quote 0.011 ETH, got %q", reply)
	}
	if !strings.Contains(reply, "30 minutes") {
		t.Errorf("reply should state the deposit window, got %q", reply)
	}

	requests, err := h.ledger.QueryByRequester(context.Background(), userInbox)
	if err != nil {
		t.Fatalf("Failed to query ledger: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}
	req := requests[0]
	if req.Status != models.StatusPending {
		t.Errorf("Expected pending, got %s", req.Status)
	}
	if req.Name != "cool.base.eth" || req.DepositAddress != testDeposit || req.ConversationId != userConvo {
		t.Errorf("Unexpected request: %+v", req)
	}
	if !req.Price.Equal(decimal.RequireFromString("0.011")) {
		t.Errorf("Expected price 0.011, got %s", req.Price)
	}
	if !h.orch.IsActive(userInbox, "cool.base.eth") {
		t.Error("Expected a fulfillment task to be running")
	}
}

func TestBuy_DuplicateRejected(t *testing.T) {
	h := setupTestAgent(t)

	h.say("buy cool.base.eth")
	h.say("BUY Cool.Base.Eth")

	if !strings.Contains(h.sender.last(), "already have a pending request") {
		t.Fatalf("Expected duplicate rejection, got %q", h.sender.last())
	}
	if h.allocator.calls != 1 {
		t.Errorf("Expected 1 allocation, got %d", h.allocator.calls)
	}
	requests, _ := h.ledger.QueryByRequester(context.Background(), userInbox)
	if len(requests) != 1 {
		t.Errorf("Expected 1 request, got %d", len(requests))
	}
}

func TestBuy_PaymentCompletesRegistration(t *testing.T) {
	h := setupTestAgent(t)

	h.say("buy cool.base.eth")
	h.watcher.results <- watchOutcome{result: &models.PaymentResult{
		Address:      testDeposit,
		Amount:       decimal.RequireFromString("0.011"),
		PayerAddress: testPayer,
	}}

	req := waitForStatus(t, h.ledger, "cool.base.eth", models.StatusCompleted)
	if req.TransactionHash != "0xabc123" {
		t.Errorf("Expected hash 0xabc123, got %s", req.TransactionHash)
	}
	if req.PayerAddress != testPayer {
		t.Errorf("Expected payer %s, got %s", testPayer, req.PayerAddress)
	}
	waitForMessage(t, h.sender, "https://basescan.org/tx/0xabc123")
}

func TestBuy_TimeoutFailsRequest(t *testing.T) {
	h := setupTestAgent(t)

	h.say("buy cool.base.eth")
	h.watcher.results <- watchOutcome{err: watcher.ErrPaymentTimeout}

	req := waitForStatus(t, h.ledger, "cool.base.eth", models.StatusFailed)
	if req.FailureReason != "payment timeout" {
		t.Errorf("Expected payment timeout reason, got %q", req.FailureReason)
	}
	waitForMessage(t, h.sender, "before it expired")
}

func TestBuy_AfterFailureOpensNewRequest(t *testing.T) {
	h := setupTestAgent(t)

	h.say("buy cool.base.eth")
	h.watcher.results <- watchOutcome{err: watcher.ErrPaymentTimeout}
	waitForStatus(t, h.ledger, "cool.base.eth", models.StatusFailed)

	deadline := time.Now().Add(2 * time.Second)
	for h.orch.IsActive(userInbox, "cool.base.eth") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.say("buy cool.base.eth")

	requests, _ := h.ledger.QueryByRequester(context.Background(), userInbox)
	if len(requests) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(requests))
	}
	if requests[0].Status != models.StatusPending || requests[1].Status != models.StatusFailed {
		t.Errorf("Expected newest pending over failed, got %s and %s", requests[0].Status, requests[1].Status)
	}
}

func TestBuy_ExpiredPendingIsClosed(t *testing.T) {
	h := setupTestAgent(t)
	ctx := context.Background()

	_, err := h.ledger.Record(ctx, models.RequestPatch{
		RequesterId:    userInbox,
		Name:           "cool.base.eth",
		Status:         models.Ptr(models.StatusPending),
		DepositAddress: models.Ptr(testDeposit),
		Price:          models.Ptr(decimal.RequireFromString("0.011")),
		ExpiresAt:      models.Ptr(time.Now().Add(-time.Minute)),
	})
	if err != nil {
		t.Fatalf("Failed to seed ledger: %v", err)
	}

	h.say("buy cool.base.eth")

	requests, _ := h.ledger.QueryByRequester(ctx, userInbox)
	if len(requests) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(requests))
	}
	if requests[1].Status != models.StatusFailed {
		t.Errorf("Expected stale request to be failed, got %s", requests[1].Status)
	}
	if requests[0].Status != models.StatusPending {
		t.Errorf("Expected new pending request, got %s", requests[0].Status)
	}
}

func TestBuy_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		taken       string
		registryErr error
		allocErr    error
		want        string
		wantLookups int
	}{
		{name: "too short", content: "buy ab.base.eth", want: "Invalid format"},
		{name: "missing name", content: "buy", want: "Invalid format"},
		{name: "taken", content: "buy cool.base.eth", taken: "cool", want: "already taken", wantLookups: 1},
		{name: "lookup failure", content: "buy cool.base.eth", registryErr: errors.New("rpc down"), want: "couldn't check", wantLookups: 1},
		{name: "allocation failure", content: "buy cool.base.eth", allocErr: errors.New("sidecar down"), want: "couldn't create a deposit address", wantLookups: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupTestAgent(t)
			if tt.taken != "" {
				h.registry.taken[tt.taken] = true
			}
			h.registry.err = tt.registryErr
			h.allocator.err = tt.allocErr

			h.say(tt.content)

			if !strings.Contains(h.sender.last(), tt.want) {
				t.Errorf("Expected reply containing %q, got %q", tt.want, h.sender.last())
			}
			if h.registry.lookups != tt.wantLookups {
				t.Errorf("Expected %d registry lookups, got %d", tt.wantLookups, h.registry.lookups)
			}
			requests, _ := h.ledger.QueryByRequester(context.Background(), userInbox)
			if len(requests) != 0 {
				t.Errorf("Expected no ledger entries, got %d", len(requests))
			}
		})
	}
}

func TestCheck(t *testing.T) {
	h := setupTestAgent(t)
	h.registry.taken["taken"] = true

	h.say("check ab.base.eth")
	if h.sender.last() != invalidCheckFormat {
		t.Errorf("Expected corrective reply, got %q", h.sender.last())
	}
	if h.registry.lookups != 0 {
		t.Errorf("Expected no registry lookup, got %d", h.registry.lookups)
	}

	h.say("check free.base.eth")
	if !strings.Contains(h.sender.last(), "Available") || !strings.Contains(h.sender.last(), "0.011 ETH") {
		t.Errorf("Unexpected check reply: %q", h.sender.last())
	}

	h.say("check taken.base.eth")
	if !strings.Contains(h.sender.last(), "Taken") {
		t.Errorf("Unexpected check reply: %q", h.sender.last())
	}
}

func TestStatus(t *testing.T) {
	h := setupTestAgent(t)

	h.say("status")
	if h.sender.last() != noRequestsMessage {
		t.Errorf("Expected empty status, got %q", h.sender.last())
	}

	h.say("buy cool.base.eth")
	h.say("status")
	reply := h.sender.last()
	if !strings.Contains(reply, "cool.base.eth") || !strings.Contains(reply, "waiting for payment") {
		t.Errorf("Unexpected status reply: %q", reply)
	}
}

func TestHandle_HelpAndUnknown(t *testing.T) {
	h := setupTestAgent(t)

	h.say("  HELP ")
	if h.sender.last() != helpMessage {
		t.Errorf("Expected help, got %q", h.sender.last())
	}

	h.say("sell cool.base.eth")
	if h.sender.last() != unknownCommand {
		t.Errorf("Expected unknown command reply, got %q", h.sender.last())
	}
}

func TestHandle_ConversationWelcome(t *testing.T) {
	h := setupTestAgent(t)

	h.agent.Handle(context.Background(), models.InboundMessage{
		Kind:           models.KindConversation,
		ConversationId: "new-convo",
	})

	if h.sender.last() != welcomeMessage {
		t.Errorf("Expected welcome, got %q", h.sender.last())
	}
}

func TestHandle_IgnoresOwnMessages(t *testing.T) {
	h := setupTestAgent(t)

	h.agent.Handle(context.Background(), models.InboundMessage{
		Kind:           models.KindMessage,
		SenderInboxId:  agentInbox,
		ConversationId: userConvo,
		Content:        "help",
	})

	if len(h.sender.messages) != 0 {
		t.Errorf("Expected no replies, got %v", h.sender.messages)
	}
}

func TestHandle_RateLimited(t *testing.T) {
	h := setupTestAgent(t)
	h.agent.limiter = ratelimit.NewMemoryLimiter(time.Hour)

	h.say("help")
	h.say("buy cool.base.eth")

	if h.sender.last() != rateLimitedMessage {
		t.Errorf("Expected rate limit reply, got %q", h.sender.last())
	}
	if h.registry.lookups != 0 || h.allocator.calls != 0 {
		t.Error("Rate limited message must not reach the command handlers")
	}
}
