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

package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval        = 5 * time.Second
	DefaultMaxBackoff          = 30 * time.Second
	DefaultPayerLookbackBlocks = 5

	payerLookupTimeout = 15 * time.Second
)

var ErrPaymentTimeout = errors.New("payment timeout")

// ChainReader is the chain access a watch needs
type ChainReader interface {
	BalanceAt(ctx context.Context, address string) (decimal.Decimal, error)
	RecentBlocks(ctx context.Context, count int) ([]models.Block, error)
}

// Watcher polls an address balance until it reaches a target or a deadline passes
type Watcher struct {
	chain        ChainReader
	pollInterval time.Duration
	maxBackoff   time.Duration
	lookback     int
}

func New(chain ChainReader, cfg models.WatcherConfig) *Watcher {
	w := &Watcher{
		chain:        chain,
		pollInterval: cfg.PollInterval,
		maxBackoff:   cfg.MaxBackoff,
		lookback:     cfg.PayerLookbackBlocks,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.maxBackoff < w.pollInterval {
		w.maxBackoff = max(DefaultMaxBackoff, w.pollInterval)
	}
	if w.lookback <= 0 {
		w.lookback = DefaultPayerLookbackBlocks
	}
	return w
}

// Watch waits up to timeout for the balance of address to reach expected.
func (w *Watcher) Watch(ctx context.Context, address string, expected decimal.Decimal, timeout time.Duration) (*models.PaymentResult, error) {
	return w.WatchUntil(ctx, address, expected, time.Now().Add(timeout))
}

// WatchUntil is Watch with an absolute deadline. No poll starts at or after the deadline
// and a poll in flight is cut off when it passes. Only ctx cancellation ends a watch early.
func (w *Watcher) WatchUntil(ctx context.Context, address string, expected decimal.Decimal, deadline time.Time) (*models.PaymentResult, error) {
	logger := zap.L().With(
		zap.String("deposit_address", address),
		zap.String("expected", expected.String()),
		zap.Time("deadline", deadline))

	watchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	var polls, failures int
	for {
		select {
		case <-watchCtx.Done():
			return nil, w.stopReason(ctx, address, expected, polls)
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			return nil, w.stopReason(ctx, address, expected, polls)
		}

		polls++
		balance, err := w.chain.BalanceAt(watchCtx, address)
		if err != nil {
			if watchCtx.Err() != nil {
				return nil, w.stopReason(ctx, address, expected, polls)
			}
			failures++
			delay := w.backoff(failures)
			logger.Warn("Balance poll failed, backing off",
				zap.Int("consecutive_failures", failures),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			timer.Reset(delay)
			continue
		}
		failures = 0

		if balance.GreaterThanOrEqual(expected) {
			result := &models.PaymentResult{
				Address:      address,
				Amount:       balance,
				PayerAddress: w.findPayer(ctx, address),
				Polls:        polls,
				ObservedAt:   time.Now().UTC(),
			}
			logger.Info("Payment received",
				zap.String("amount", balance.String()),
				zap.String("payer", result.PayerAddress),
				zap.Int("polls", polls))
			return result, nil
		}

		logger.Debug("Payment not yet received",
			zap.String("balance", balance.String()),
			zap.Int("poll", polls))
		timer.Reset(w.pollInterval)
	}
}

func (w *Watcher) stopReason(ctx context.Context, address string, expected decimal.Decimal, polls int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s not received at %s after %d polls", ErrPaymentTimeout, expected, address, polls)
}

// backoff doubles the poll interval per consecutive failure, capped at maxBackoff
func (w *Watcher) backoff(failures int) time.Duration {
	delay := w.pollInterval
	for i := 1; i < failures && delay < w.maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, w.maxBackoff)
}

// findPayer scans recent blocks for a transfer into address. Lookup errors never fail the watch.
func (w *Watcher) findPayer(ctx context.Context, address string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, payerLookupTimeout)
	defer cancel()

	blocks, err := w.chain.RecentBlocks(lookupCtx, w.lookback)
	if err != nil {
		zap.L().Warn("Payer lookup incomplete",
			zap.String("deposit_address", address),
			zap.Int("blocks_scanned", len(blocks)),
			zap.Error(err))
	}

	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if tx.To != "" && strings.EqualFold(tx.To, address) && tx.From != "" {
				return tx.From
			}
		}
	}

	zap.L().Warn("No paying transaction found in recent blocks",
		zap.String("deposit_address", address),
		zap.Int("lookback_blocks", w.lookback))
	return models.ZeroAddress
}
