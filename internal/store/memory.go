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
	"sort"
	"sync"
	"time"

	"basenames-agent-go/internal/models"
)

// Compile-time check: *MemoryStore must satisfy RequestStore.
var _ RequestStore = (*MemoryStore)(nil)

// MemoryStore keeps the ledger in process memory. Superseded requests are kept
// so status queries still list them.
type MemoryStore struct {
	mu      sync.Mutex
	history map[string][]*models.DepositRequest
	seq     map[string]int64
	next    int64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string][]*models.DepositRequest),
		seq:     make(map[string]int64),
		now:     time.Now,
	}
}

func (m *MemoryStore) Record(_ context.Context, patch models.RequestPatch) (*models.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(patch.RequesterId, patch.Name)
	var current *models.DepositRequest
	if records := m.history[key]; len(records) > 0 {
		current = records[len(records)-1]
	}

	record, created, err := Merge(current, patch, m.now())
	if err != nil {
		return nil, err
	}

	if created {
		m.next++
		m.seq[record.Id] = m.next
		m.history[key] = append(m.history[key], record)
	} else {
		m.history[key][len(m.history[key])-1] = record
	}

	out := *record
	return &out, nil
}

func (m *MemoryStore) Latest(_ context.Context, requesterId, name string) (*models.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.history[Key(requesterId, name)]
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	out := *records[len(records)-1]
	return &out, nil
}

func (m *MemoryStore) QueryByRequester(_ context.Context, requesterId string) ([]models.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.DepositRequest
	for _, records := range m.history {
		for _, r := range records {
			if r.RequesterId == requesterId {
				out = append(out, *r)
			}
		}
	}
	m.sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]models.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.DepositRequest
	for _, records := range m.history {
		if r := records[len(records)-1]; r.Status == models.StatusPending {
			out = append(out, *r)
		}
	}
	m.sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Close() {}

// sortNewestFirst orders by creation time, falling back to insertion order for equal timestamps.
func (m *MemoryStore) sortNewestFirst(records []models.DepositRequest) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return m.seq[records[i].Id] > m.seq[records[j].Id]
	})
}
