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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/google/uuid"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound          = errors.New("request not found")
	ErrImmutableRecord   = errors.New("request is terminal and cannot be modified")
	ErrInvalidPatch      = errors.New("invalid request patch")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RequestStore defines the contract that every ledger backend (memory, SQLite, Formance) must satisfy.
type RequestStore interface {
	// Record merges patch into the current request of (RequesterId, Name).
	// A pending patch over a terminal request opens a new request instead.
	Record(ctx context.Context, patch models.RequestPatch) (*models.DepositRequest, error)
	// Latest returns the current request of the pair or ErrNotFound.
	Latest(ctx context.Context, requesterId, name string) (*models.DepositRequest, error)
	// QueryByRequester returns every request of the requester, newest first.
	QueryByRequester(ctx context.Context, requesterId string) ([]models.DepositRequest, error)
	// ListPending returns all requests still waiting on a payment.
	ListPending(ctx context.Context) ([]models.DepositRequest, error)

	Close()
}

// Merge applies patch on top of current, the latest request of the pair (nil when none exists).
// It returns the resulting record and whether it is a new record that must be inserted.
// Backends call it inside their per-key critical section.
func Merge(current *models.DepositRequest, patch models.RequestPatch, now time.Time) (*models.DepositRequest, bool, error) {
	if patch.RequesterId == "" || patch.Name == "" {
		return nil, false, fmt.Errorf("%w: requester and name are required", ErrInvalidPatch)
	}
	if patch.Status != nil && !isKnownStatus(*patch.Status) {
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *patch.Status)
	}

	now = now.UTC()

	if current == nil || models.IsTerminalStatus(current.Status) {
		if current != nil && !patch.OpensNewRequest() {
			return nil, false, fmt.Errorf("%w: %s is %s", ErrImmutableRecord, current.Id, current.Status)
		}

		record := &models.DepositRequest{
			Id:          uuid.New().String(),
			RequesterId: patch.RequesterId,
			Name:        patch.Name,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		patch.ApplyTo(record)
		if err := checkRecord(record); err != nil {
			return nil, false, err
		}
		return record, true, nil
	}

	merged := *current
	patch.ApplyTo(&merged)
	merged.UpdatedAt = now
	if models.IsTerminalStatus(merged.Status) && merged.CompletedAt.IsZero() {
		merged.CompletedAt = now
	}
	if err := checkRecord(&merged); err != nil {
		return nil, false, err
	}
	return &merged, false, nil
}

// Key returns the ledger key of a (requester, name) pair
func Key(requesterId, name string) string {
	return requesterId + "-" + name
}

func isKnownStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusCompleted, models.StatusFailed, models.StatusRegistrationFailed:
		return true
	}
	return false
}

func checkRecord(r *models.DepositRequest) error {
	if r.TransactionHash != "" && r.Status != models.StatusCompleted {
		return fmt.Errorf("%w: transaction hash set on %s request", ErrInvalidTransition, r.Status)
	}
	if r.Status == models.StatusCompleted && r.TransactionHash == "" {
		return fmt.Errorf("%w: completed request without transaction hash", ErrInvalidTransition)
	}
	return nil
}
