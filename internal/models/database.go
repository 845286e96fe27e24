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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request statuses. Everything except StatusPending is terminal.
const (
	StatusPending            = "pending"
	StatusCompleted          = "completed"
	StatusFailed             = "failed"
	StatusRegistrationFailed = "registration_failed"
)

// IsTerminalStatus reports whether a request in this status can no longer change
func IsTerminalStatus(status string) bool {
	return status != "" && status != StatusPending
}

// DepositRequest is one purchase attempt of a name by a requester
type DepositRequest struct {
	Id              string          `db:"id"`
	RequesterId     string          `db:"requester_id"`
	ConversationId  string          `db:"conversation_id"`
	Name            string          `db:"name"`
	DerivationPath  string          `db:"derivation_path"`
	DepositAddress  string          `db:"deposit_address"`
	Price           decimal.Decimal `db:"price"`
	ExpiresAt       time.Time       `db:"expires_at"`
	Status          string          `db:"status"`
	TransactionHash string          `db:"transaction_hash"`
	PayerAddress    string          `db:"payer_address"`
	AmountReceived  decimal.Decimal `db:"amount_received"`
	FailureReason   string          `db:"failure_reason"`
	CreatedAt       time.Time       `db:"created_at"`
	CompletedAt     time.Time       `db:"completed_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// IsExpired reports whether the deposit window of the request has closed
func (r *DepositRequest) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// RequestPatch carries the fields of a ledger write. Nil fields are left untouched.
type RequestPatch struct {
	RequesterId     string
	Name            string
	ConversationId  *string
	DerivationPath  *string
	DepositAddress  *string
	Price           *decimal.Decimal
	ExpiresAt       *time.Time
	Status          *string
	TransactionHash *string
	PayerAddress    *string
	AmountReceived  *decimal.Decimal
	FailureReason   *string
	CompletedAt     *time.Time
}

// ApplyTo merges the provided patch fields over r, last write wins
func (p RequestPatch) ApplyTo(r *DepositRequest) {
	if p.ConversationId != nil {
		r.ConversationId = *p.ConversationId
	}
	if p.DerivationPath != nil {
		r.DerivationPath = *p.DerivationPath
	}
	if p.DepositAddress != nil {
		r.DepositAddress = *p.DepositAddress
	}
	if p.Price != nil {
		r.Price = *p.Price
	}
	if p.ExpiresAt != nil {
		r.ExpiresAt = p.ExpiresAt.UTC()
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.TransactionHash != nil {
		r.TransactionHash = *p.TransactionHash
	}
	if p.PayerAddress != nil {
		r.PayerAddress = *p.PayerAddress
	}
	if p.AmountReceived != nil {
		r.AmountReceived = *p.AmountReceived
	}
	if p.FailureReason != nil {
		r.FailureReason = *p.FailureReason
	}
	if p.CompletedAt != nil {
		r.CompletedAt = p.CompletedAt.UTC()
	}
}

// OpensNewRequest reports whether the patch starts a fresh pending request
func (p RequestPatch) OpensNewRequest() bool {
	return p.Status != nil && *p.Status == StatusPending
}

// Ptr returns a pointer to v, handy when building patches
func Ptr[T any](v T) *T {
	return &v
}
