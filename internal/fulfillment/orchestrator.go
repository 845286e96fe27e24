/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"basenames-agent-go/internal/models"
	"basenames-agent-go/internal/store"
	"basenames-agent-go/internal/watcher"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrAlreadyPending = errors.New("a purchase is already pending for this name")
	ErrStopped        = errors.New("orchestrator is stopped")
)

const (
	defaultExplorerURL = "https://basescan.org"
	submitTimeout      = 2 * time.Minute
	ledgerTimeout      = 15 * time.Second
	notifyTimeout      = 15 * time.Second
)

type Watcher interface {
	WatchUntil(ctx context.Context, address string, expected decimal.Decimal, deadline time.Time) (*models.PaymentResult, error)
}

type Registrar interface {
	SubmitRegistration(ctx context.Context, name, payer, path, depositAddress string) (string, error)
}

// Notifier delivers a chat message to a conversation
type Notifier interface {
	Send(ctx context.Context, conversationId, text string) error
}

type OrchestratorConfig struct {
	Watcher     Watcher
	Registrar   Registrar
	Ledger      store.RequestStore
	Notifier    Notifier
	ExplorerURL string
}

type task struct {
	requestId string
	cancel    context.CancelFunc
	cancelled bool
	startedAt time.Time
}

// Orchestrator runs one background watch-and-register task per (requester, name)
type Orchestrator struct {
	watcher     Watcher
	registrar   Registrar
	ledger      store.RequestStore
	notifier    Notifier
	explorerURL string

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
	wg      sync.WaitGroup
}

func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	explorerURL := config.ExplorerURL
	if explorerURL == "" {
		explorerURL = defaultExplorerURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		watcher:     config.Watcher,
		registrar:   config.Registrar,
		ledger:      config.Ledger,
		notifier:    config.Notifier,
		explorerURL: explorerURL,
		baseCtx:     ctx,
		baseCancel:  cancel,
		tasks:       make(map[string]*task),
	}
}

// Start launches the task for a pending request and returns immediately
func (o *Orchestrator) Start(req models.DepositRequest) error {
	if req.DepositAddress == "" || req.ExpiresAt.IsZero() {
		return fmt.Errorf("request %s has no deposit address or expiry", req.Id)
	}

	key := store.Key(req.RequesterId, req.Name)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return ErrStopped
	}
	if _, exists := o.tasks[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyPending, req.Name)
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	t := &task{requestId: req.Id, cancel: cancel, startedAt: time.Now()}
	o.tasks[key] = t

	o.wg.Add(1)
	go o.run(ctx, key, t, req)

	zap.L().Info("Fulfillment task started",
		zap.String("request_id", req.Id),
		zap.String("requester_id", req.RequesterId),
		zap.String("name", req.Name),
		zap.Time("expires_at", req.ExpiresAt))
	return nil
}

// IsActive reports whether a task is in flight for the pair
func (o *Orchestrator) IsActive(requesterId, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[store.Key(requesterId, name)]
	return ok
}

func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// Cancel stops the task of the pair and marks its request failed
func (o *Orchestrator) Cancel(requesterId, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[store.Key(requesterId, name)]
	if !ok {
		return false
	}
	t.cancelled = true
	t.cancel()
	return true
}

// Stop cancels every task and waits for them to exit. Their requests stay pending.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	active := len(o.tasks)
	o.mu.Unlock()

	zap.L().Info("Stopping fulfillment tasks", zap.Int("active", active))
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Fulfillment tasks stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for fulfillment tasks: %w", ctx.Err())
	}
}

// Resume restarts watches for pending requests left by a previous run.
// Requests whose window closed in the meantime are failed, never fulfilled.
func (o *Orchestrator) Resume(ctx context.Context) (resumed, expired int, err error) {
	zap.L().Info("Starting startup recovery process")

	pending, err := o.ledger.ListPending(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list pending requests: %w", err)
	}

	now := time.Now()
	for _, req := range pending {
		if req.IsExpired(now) || req.DepositAddress == "" {
			o.finish(req, models.StatusFailed, "deposit window expired while offline", nil)
			o.notify(req, expiredWhileOfflineMessage(req))
			expired++
			continue
		}

		if err := o.Start(req); err != nil {
			zap.L().Error("Failed to resume request",
				zap.String("request_id", req.Id),
				zap.Error(err))
			continue
		}
		resumed++
	}

	zap.L().Info("Startup recovery completed",
		zap.Int("pending", len(pending)),
		zap.Int("resumed", resumed),
		zap.Int("expired", expired))
	return resumed, expired, nil
}

func (o *Orchestrator) run(ctx context.Context, key string, t *task, req models.DepositRequest) {
	defer o.wg.Done()
	defer o.release(key, t)
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Fulfillment task panicked",
				zap.String("request_id", req.Id),
				zap.Any("panic", r),
				zap.Stack("stack"))
			o.notify(req, internalErrorMessage(req.Name))
		}
	}()

	result, err := o.watcher.WatchUntil(ctx, req.DepositAddress, req.Price, req.ExpiresAt)
	if err != nil {
		o.handleWatchError(req, t, err)
		return
	}

	o.notify(req, paymentReceivedMessage(req.Name))

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	hash, err := o.registrar.SubmitRegistration(submitCtx, req.Name, result.PayerAddress, req.DerivationPath, req.DepositAddress)
	if err != nil {
		zap.L().Error("Registration failed after payment",
			zap.String("request_id", req.Id),
			zap.String("name", req.Name),
			zap.String("payer", result.PayerAddress),
			zap.Error(err))
		o.finish(req, models.StatusRegistrationFailed, err.Error(), result)
		o.notify(req, registrationFailedMessage(req.Name, err))
		return
	}

	o.complete(req, hash, result)
	o.notify(req, successMessage(o.explorerURL, req.Name, hash, result.PayerAddress))
}

func (o *Orchestrator) handleWatchError(req models.DepositRequest, t *task, err error) {
	switch {
	case errors.Is(err, watcher.ErrPaymentTimeout):
		zap.L().Info("Payment window expired",
			zap.String("request_id", req.Id),
			zap.String("name", req.Name))
		o.finish(req, models.StatusFailed, "payment timeout", nil)
		o.notify(req, timeoutMessage(req))

	case errors.Is(err, context.Canceled) && o.wasCancelled(t):
		o.finish(req, models.StatusFailed, "cancelled", nil)

	case errors.Is(err, context.Canceled):
		// shutdown; the request stays pending for the next start
		zap.L().Info("Fulfillment task interrupted",
			zap.String("request_id", req.Id),
			zap.String("name", req.Name))

	default:
		zap.L().Error("Payment watch failed",
			zap.String("request_id", req.Id),
			zap.Error(err))
		o.finish(req, models.StatusFailed, err.Error(), nil)
		o.notify(req, internalErrorMessage(req.Name))
	}
}

func (o *Orchestrator) complete(req models.DepositRequest, hash string, result *models.PaymentResult) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	completedAt := time.Now().UTC()
	_, err := o.ledger.Record(ctx, models.RequestPatch{
		RequesterId:     req.RequesterId,
		Name:            req.Name,
		Status:          models.Ptr(models.StatusCompleted),
		TransactionHash: &hash,
		PayerAddress:    &result.PayerAddress,
		AmountReceived:  &result.Amount,
		CompletedAt:     &completedAt,
	})
	if err != nil {
		zap.L().Error("Failed to record completed request",
			zap.String("request_id", req.Id),
			zap.String("tx_hash", hash),
			zap.Error(err))
	}
}

func (o *Orchestrator) finish(req models.DepositRequest, status, reason string, result *models.PaymentResult) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	patch := models.RequestPatch{
		RequesterId:   req.RequesterId,
		Name:          req.Name,
		Status:        &status,
		FailureReason: &reason,
	}
	if result != nil {
		patch.PayerAddress = &result.PayerAddress
		patch.AmountReceived = &result.Amount
	}

	if _, err := o.ledger.Record(ctx, patch); err != nil {
		zap.L().Error("Failed to record terminal request",
			zap.String("request_id", req.Id),
			zap.String("status", status),
			zap.Error(err))
	}
}

func (o *Orchestrator) notify(req models.DepositRequest, text string) {
	if req.ConversationId == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := o.notifier.Send(ctx, req.ConversationId, text); err != nil {
		zap.L().Warn("Failed to notify requester",
			zap.String("request_id", req.Id),
			zap.String("conversation_id", req.ConversationId),
			zap.Error(err))
	}
}

func (o *Orchestrator) wasCancelled(t *task) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return t.cancelled
}

func (o *Orchestrator) release(key string, t *task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tasks[key] == t {
		delete(o.tasks, key)
	}
	t.cancel()
}
