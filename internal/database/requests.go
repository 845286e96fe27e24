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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"basenames-agent-go/internal/models"
	"basenames-agent-go/internal/store"

	"go.uber.org/zap"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) Record(ctx context.Context, patch models.RequestPatch) (*models.DepositRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to rollback ledger transaction", zap.Error(err))
		}
	}()

	current, err := scanRequest(tx.QueryRowContext(ctx, queryLatestRequest, patch.RequesterId, patch.Name))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load current request: %w", err)
	}

	record, created, err := store.Merge(current, patch, time.Now())
	if err != nil {
		return nil, err
	}

	if created {
		_, err = tx.ExecContext(ctx, queryInsertRequest,
			record.Id, record.RequesterId, record.ConversationId, record.Name,
			record.DerivationPath, record.DepositAddress, record.Price, nullTime(record.ExpiresAt),
			record.Status, record.TransactionHash, record.PayerAddress, record.AmountReceived,
			record.FailureReason, record.CreatedAt, nullTime(record.CompletedAt), record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert request: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, queryUpdateRequest,
			record.ConversationId, record.DerivationPath, record.DepositAddress, record.Price,
			nullTime(record.ExpiresAt), record.Status, record.TransactionHash, record.PayerAddress,
			record.AmountReceived, record.FailureReason, nullTime(record.CompletedAt), record.UpdatedAt,
			record.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to update request: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrImmutableRecord, record.Id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request: %w", err)
	}

	zap.L().Debug("Recorded request",
		zap.String("request_id", record.Id),
		zap.String("requester_id", record.RequesterId),
		zap.String("name", record.Name),
		zap.String("status", record.Status),
		zap.Bool("created", created))

	return record, nil
}

func (s *Service) Latest(ctx context.Context, requesterId, name string) (*models.DepositRequest, error) {
	return scanRequest(s.db.QueryRowContext(ctx, queryLatestRequest, requesterId, name))
}

func (s *Service) QueryByRequester(ctx context.Context, requesterId string) ([]models.DepositRequest, error) {
	return s.queryRequests(ctx, queryRequestsByRequester, requesterId)
}

func (s *Service) ListPending(ctx context.Context) ([]models.DepositRequest, error) {
	return s.queryRequests(ctx, queryPendingRequests)
}

func (s *Service) queryRequests(ctx context.Context, query string, args ...any) ([]models.DepositRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []models.DepositRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return requests, nil
}

func scanRequest(row rowScanner) (*models.DepositRequest, error) {
	var (
		r           models.DepositRequest
		expiresAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&r.Id, &r.RequesterId, &r.ConversationId, &r.Name, &r.DerivationPath, &r.DepositAddress,
		&r.Price, &expiresAt, &r.Status, &r.TransactionHash, &r.PayerAddress, &r.AmountReceived,
		&r.FailureReason, &r.CreatedAt, &completedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if expiresAt.Valid {
		r.ExpiresAt = expiresAt.Time.UTC()
	}
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time.UTC()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
