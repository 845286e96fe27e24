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

package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"basenames-agent-go/internal/allocator"
	"basenames-agent-go/internal/models"
	"basenames-agent-go/internal/naming"
	"basenames-agent-go/internal/ratelimit"
	"basenames-agent-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sendTimeout = 15 * time.Second

type Naming interface {
	CheckAvailability(ctx context.Context, name string) (bool, error)
	QuotePrice(name string) decimal.Decimal
}

type Allocator interface {
	Allocate(ctx context.Context, requesterId, name string) (*models.Allocation, error)
}

// Fulfiller owns the background watch of each pending request
type Fulfiller interface {
	Start(req models.DepositRequest) error
	IsActive(requesterId, name string) bool
}

type Sender interface {
	Send(ctx context.Context, conversationId, text string) error
}

type Config struct {
	InboxId       string
	Naming        Naming
	Allocator     Allocator
	Ledger        store.RequestStore
	Fulfiller     Fulfiller
	Sender        Sender
	Limiter       ratelimit.Limiter
	ExplorerURL   string
	DepositWindow time.Duration
}

// Agent turns inbound chat messages into name purchases. Handle is called by a
// single consumer, so command handling is never concurrent.
type Agent struct {
	inboxId       string
	naming        Naming
	allocator     Allocator
	ledger        store.RequestStore
	fulfiller     Fulfiller
	sender        Sender
	limiter       ratelimit.Limiter
	explorerURL   string
	depositWindow time.Duration
	now           func() time.Time
}

func New(cfg Config) *Agent {
	window := cfg.DepositWindow
	if window <= 0 {
		window = allocator.DefaultDepositWindow
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultWindow)
	}
	return &Agent{
		inboxId:       cfg.InboxId,
		naming:        cfg.Naming,
		allocator:     cfg.Allocator,
		ledger:        cfg.Ledger,
		fulfiller:     cfg.Fulfiller,
		sender:        cfg.Sender,
		limiter:       limiter,
		explorerURL:   cfg.ExplorerURL,
		depositWindow: window,
		now:           time.Now,
	}
}

// Handle processes one inbound event. Errors and panics end here and never reach the consumer loop.
func (a *Agent) Handle(ctx context.Context, msg models.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Message handler panicked",
				zap.String("message_id", msg.Id),
				zap.Any("panic", r),
				zap.Stack("stack"))
			a.reply(ctx, msg.ConversationId, internalErrorMessage)
		}
	}()

	if msg.Kind == models.KindConversation {
		zap.L().Info("New conversation started", zap.String("conversation_id", msg.ConversationId))
		a.reply(ctx, msg.ConversationId, welcomeMessage)
		return
	}

	if msg.SenderInboxId == a.inboxId {
		return
	}

	zap.L().Info("Message received",
		zap.String("sender_inbox_id", msg.SenderInboxId),
		zap.String("conversation_id", msg.ConversationId),
		zap.String("content", msg.Content))

	allowed, err := a.limiter.Allow(ctx, msg.SenderInboxId)
	if err != nil {
		zap.L().Warn("Rate limiter unavailable, allowing message", zap.Error(err))
	}
	if !allowed {
		a.reply(ctx, msg.ConversationId, rateLimitedMessage)
		return
	}

	a.dispatch(ctx, msg)
}

func (a *Agent) dispatch(ctx context.Context, msg models.InboundMessage) {
	command := strings.ToLower(strings.TrimSpace(msg.Content))
	fields := strings.Fields(command)

	switch {
	case len(fields) > 0 && fields[0] == "buy":
		if len(fields) != 2 {
			a.reply(ctx, msg.ConversationId, invalidBuyFormat)
			return
		}
		a.buy(ctx, msg, fields[1])
	case len(fields) > 0 && fields[0] == "check":
		if len(fields) != 2 {
			a.reply(ctx, msg.ConversationId, invalidCheckFormat)
			return
		}
		a.check(ctx, msg, fields[1])
	case command == "status":
		a.status(ctx, msg)
	case command == "help":
		a.reply(ctx, msg.ConversationId, helpMessage)
	default:
		a.reply(ctx, msg.ConversationId, unknownCommand)
	}
}

func (a *Agent) buy(ctx context.Context, msg models.InboundMessage, raw string) {
	requesterId := msg.SenderInboxId
	logger := zap.L().With(zap.String("requester_id", requesterId), zap.String("raw_name", raw))

	name, err := naming.ParseName(raw)
	if err != nil {
		a.reply(ctx, msg.ConversationId, invalidBuyFormat)
		return
	}

	available, err := a.naming.CheckAvailability(ctx, name)
	if err != nil {
		logger.Warn("Availability lookup failed", zap.Error(err))
		a.reply(ctx, msg.ConversationId, lookupFailedMessage(name))
		return
	}
	if !available {
		logger.Info("Rejected purchase", zap.Error(naming.ErrAvailabilityConflict))
		a.reply(ctx, msg.ConversationId, takenMessage(name))
		return
	}

	if handled := a.rejectIfPending(ctx, msg, name); handled {
		return
	}

	allocation, err := a.allocator.Allocate(ctx, requesterId, name)
	if err != nil {
		logger.Error("Deposit allocation failed", zap.Error(err))
		a.reply(ctx, msg.ConversationId, allocationFailedMessage(name))
		return
	}

	req, err := a.ledger.Record(ctx, models.RequestPatch{
		RequesterId:     requesterId,
		Name:            name,
		ConversationId:  &msg.ConversationId,
		Status:          models.Ptr(models.StatusPending),
		DerivationPath:  &allocation.DerivationPath,
		DepositAddress:  &allocation.DepositAddress,
		Price:           &allocation.Price,
		ExpiresAt:       &allocation.ExpiresAt,
		TransactionHash: models.Ptr(""),
		PayerAddress:    models.Ptr(""),
		AmountReceived:  models.Ptr(decimal.Zero),
		FailureReason:   models.Ptr(""),
	})
	if err != nil {
		logger.Error("Failed to record request", zap.Error(err))
		a.reply(ctx, msg.ConversationId, ledgerFailedMessage(name))
		return
	}

	a.reply(ctx, msg.ConversationId, paymentInstructions(req, a.depositWindow))

	if err := a.fulfiller.Start(*req); err != nil {
		logger.Error("Failed to start payment watch", zap.String("request_id", req.Id), zap.Error(err))
	}
}

// rejectIfPending answers for a pair that already has a live request and reports whether it did.
// A pending request whose window closed without a watch is failed so a new one can open.
func (a *Agent) rejectIfPending(ctx context.Context, msg models.InboundMessage, name string) bool {
	requesterId := msg.SenderInboxId

	latest, err := a.ledger.Latest(ctx, requesterId, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("Failed to load current request", zap.String("name", name), zap.Error(err))
		a.reply(ctx, msg.ConversationId, ledgerFailedMessage(name))
		return true
	}

	active := a.fulfiller.IsActive(requesterId, name)
	if latest == nil || latest.Status != models.StatusPending {
		if active {
			// the task is finishing and the ledger will catch up
			a.reply(ctx, msg.ConversationId, ledgerFailedMessage(name))
			return true
		}
		return false
	}

	if active {
		a.reply(ctx, msg.ConversationId, alreadyPendingMessage(latest))
		return true
	}

	if !latest.IsExpired(a.now()) {
		if err := a.fulfiller.Start(*latest); err != nil {
			zap.L().Warn("Failed to restart payment watch", zap.String("request_id", latest.Id), zap.Error(err))
		}
		a.reply(ctx, msg.ConversationId, alreadyPendingMessage(latest))
		return true
	}

	_, err = a.ledger.Record(ctx, models.RequestPatch{
		RequesterId:   requesterId,
		Name:          name,
		Status:        models.Ptr(models.StatusFailed),
		FailureReason: models.Ptr("payment timeout"),
	})
	if err != nil {
		zap.L().Error("Failed to close expired request", zap.String("request_id", latest.Id), zap.Error(err))
		a.reply(ctx, msg.ConversationId, ledgerFailedMessage(name))
		return true
	}
	return false
}

func (a *Agent) check(ctx context.Context, msg models.InboundMessage, raw string) {
	name, err := naming.ParseName(raw)
	if err != nil {
		a.reply(ctx, msg.ConversationId, invalidCheckFormat)
		return
	}

	available, err := a.naming.CheckAvailability(ctx, name)
	if err != nil {
		zap.L().Warn("Availability lookup failed", zap.String("name", name), zap.Error(err))
		a.reply(ctx, msg.ConversationId, lookupFailedMessage(name))
		return
	}

	a.reply(ctx, msg.ConversationId, checkMessage(&models.Quote{
		Name:      name,
		Available: available,
		Price:     a.naming.QuotePrice(name),
	}))
}

func (a *Agent) status(ctx context.Context, msg models.InboundMessage) {
	requests, err := a.ledger.QueryByRequester(ctx, msg.SenderInboxId)
	if err != nil {
		zap.L().Error("Failed to query requests", zap.String("requester_id", msg.SenderInboxId), zap.Error(err))
		a.reply(ctx, msg.ConversationId, "❌ I couldn't load your requests right now. Please try again.")
		return
	}
	if len(requests) == 0 {
		a.reply(ctx, msg.ConversationId, noRequestsMessage)
		return
	}
	a.reply(ctx, msg.ConversationId, statusMessage(requests, a.explorerURL, a.now()))
}

func (a *Agent) reply(ctx context.Context, conversationId, text string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := a.sender.Send(sendCtx, conversationId, text); err != nil {
		zap.L().Error("Failed to send reply",
			zap.String("conversation_id", conversationId),
			zap.Error(err))
	}
}
