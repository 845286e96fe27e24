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

package formance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"basenames-agent-go/internal/models"
	"basenames-agent-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) Record(ctx context.Context, patch models.RequestPatch) (*models.DepositRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Latest(ctx, patch.RequesterId, patch.Name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	record, created, err := store.Merge(current, patch, time.Now())
	if err != nil {
		return nil, err
	}

	if err := s.writeMetadata(ctx, requestAddress(record.Id), requestToMetadata(record)); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	if created {
		// the pointer moves only after the request account exists
		err := s.writeMetadata(ctx, pointerAddress(record.RequesterId, record.Name), map[string]string{
			"entity_type":  "requester_pointer",
			"requester_id": record.RequesterId,
			"name":         record.Name,
			"current_id":   record.Id,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to move current request pointer: %w", err)
		}
	}

	zap.L().Debug("Recorded request in Formance",
		zap.String("request_id", record.Id),
		zap.String("status", record.Status),
		zap.Bool("created", created))

	return record, nil
}

func (s *Service) Latest(ctx context.Context, requesterId, name string) (*models.DepositRequest, error) {
	meta, err := s.readMetadata(ctx, pointerAddress(requesterId, name))
	if err != nil {
		return nil, err
	}
	id := meta["current_id"]
	if id == "" {
		return nil, store.ErrNotFound
	}

	meta, err = s.readMetadata(ctx, requestAddress(id))
	if err != nil {
		return nil, err
	}
	return metadataToRequest(meta)
}

func (s *Service) QueryByRequester(ctx context.Context, requesterId string) ([]models.DepositRequest, error) {
	return s.listRequests(ctx, map[string]any{
		"$and": []map[string]any{
			{"$match": map[string]any{"metadata[entity_type]": entityType}},
			{"$match": map[string]any{"metadata[requester_id]": requesterId}},
		},
	})
}

func (s *Service) ListPending(ctx context.Context) ([]models.DepositRequest, error) {
	return s.listRequests(ctx, map[string]any{
		"$and": []map[string]any{
			{"$match": map[string]any{"metadata[entity_type]": entityType}},
			{"$match": map[string]any{"metadata[status]": models.StatusPending}},
		},
	})
}

func (s *Service) listRequests(ctx context.Context, filter map[string]any) ([]models.DepositRequest, error) {
	var (
		requests []models.DepositRequest
		cursor   *string
	)
	for {
		req := operations.V2ListAccountsRequest{
			Ledger:   s.ledger,
			PageSize: ptrInt64(defaultPageSize),
		}
		if cursor != nil {
			req.Cursor = cursor
		} else {
			req.RequestBody = filter
		}

		resp, err := s.client.Ledger.V2.ListAccounts(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list requests: %w", err)
		}

		page := resp.V2AccountsCursorResponse.Cursor
		for i := range page.Data {
			acct := &page.Data[i]
			if !strings.HasPrefix(acct.Address, requestPrefix+":") {
				continue
			}
			r, err := metadataToRequest(acct.Metadata)
			if err != nil {
				zap.L().Warn("Skipping malformed request account",
					zap.String("address", acct.Address),
					zap.Error(err))
				continue
			}
			requests = append(requests, *r)
		}

		if !page.HasMore || page.Next == nil {
			break
		}
		cursor = page.Next
	}

	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	return requests, nil
}

func (s *Service) readMetadata(ctx context.Context, address string) (map[string]string, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Metadata, nil
}

func (s *Service) writeMetadata(ctx context.Context, address string, metadata map[string]string) error {
	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:      s.ledger,
		Address:     address,
		RequestBody: metadata,
	})
	return err
}

// ---------- metadata mapping ----------

func requestToMetadata(r *models.DepositRequest) map[string]string {
	return map[string]string{
		"entity_type":      entityType,
		"id":               r.Id,
		"requester_id":     r.RequesterId,
		"conversation_id":  r.ConversationId,
		"name":             r.Name,
		"derivation_path":  r.DerivationPath,
		"deposit_address":  r.DepositAddress,
		"price":            r.Price.String(),
		"expires_at":       formatTime(r.ExpiresAt),
		"status":           r.Status,
		"transaction_hash": r.TransactionHash,
		"payer_address":    r.PayerAddress,
		"amount_received":  r.AmountReceived.String(),
		"failure_reason":   r.FailureReason,
		"created_at":       formatTime(r.CreatedAt),
		"completed_at":     formatTime(r.CompletedAt),
		"updated_at":       formatTime(r.UpdatedAt),
	}
}

func metadataToRequest(meta map[string]string) (*models.DepositRequest, error) {
	if meta["id"] == "" {
		return nil, store.ErrNotFound
	}

	r := &models.DepositRequest{
		Id:              meta["id"],
		RequesterId:     meta["requester_id"],
		ConversationId:  meta["conversation_id"],
		Name:            meta["name"],
		DerivationPath:  meta["derivation_path"],
		DepositAddress:  meta["deposit_address"],
		Status:          meta["status"],
		TransactionHash: meta["transaction_hash"],
		PayerAddress:    meta["payer_address"],
		FailureReason:   meta["failure_reason"],
	}

	var err error
	if r.Price, err = decimalOrZero(meta["price"]); err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}
	if r.AmountReceived, err = decimalOrZero(meta["amount_received"]); err != nil {
		return nil, fmt.Errorf("invalid amount_received: %w", err)
	}
	if r.ExpiresAt, err = parseTime(meta["expires_at"]); err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	if r.CreatedAt, err = parseTime(meta["created_at"]); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if r.CompletedAt, err = parseTime(meta["completed_at"]); err != nil {
		return nil, fmt.Errorf("invalid completed_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(meta["updated_at"]); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func ptrInt64(v int64) *int64 { return &v }
