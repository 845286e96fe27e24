package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/shopspring/decimal"
)

func setupTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return clock }
	return s, &clock
}

func pendingPatch(requesterId, name string, price string) models.RequestPatch {
	p := decimal.RequireFromString(price)
	return models.RequestPatch{
		RequesterId:    requesterId,
		Name:           name,
		Status:         models.Ptr(models.StatusPending),
		Price:          &p,
		DepositAddress: models.Ptr("0x1111111111111111111111111111111111111111"),
	}
}

func TestRecord_MergesFields(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Record(ctx, pendingPatch("S", "cool.base.eth", "0.011")); err != nil {
		t.Fatalf("Record pending failed: %v", err)
	}

	_, err := s.Record(ctx, models.RequestPatch{
		RequesterId:     "S",
		Name:            "cool.base.eth",
		Status:          models.Ptr(models.StatusCompleted),
		TransactionHash: models.Ptr("0xabc"),
	})
	if err != nil {
		t.Fatalf("Record completed failed: %v", err)
	}

	records, err := s.QueryByRequester(ctx, "S")
	if err != nil {
		t.Fatalf("QueryByRequester failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	r := records[0]
	if !r.Price.Equal(decimal.RequireFromString("0.011")) {
		t.Errorf("Expected price 0.011, got %s", r.Price)
	}
	if r.Status != models.StatusCompleted {
		t.Errorf("Expected status completed, got %s", r.Status)
	}
	if r.TransactionHash != "0xabc" {
		t.Errorf("Expected tx hash 0xabc, got %s", r.TransactionHash)
	}
	if r.DepositAddress == "" {
		t.Error("Expected deposit address to survive the merge")
	}
	if r.CompletedAt.IsZero() {
		t.Error("Expected completedAt to be set on terminal status")
	}
}

func TestRecord_TerminalIsImmutable(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Record(ctx, pendingPatch("S", "cool.base.eth", "0.011")); err != nil {
		t.Fatalf("Record pending failed: %v", err)
	}
	_, err := s.Record(ctx, models.RequestPatch{
		RequesterId:   "S",
		Name:          "cool.base.eth",
		Status:        models.Ptr(models.StatusFailed),
		FailureReason: models.Ptr("payment timeout"),
	})
	if err != nil {
		t.Fatalf("Record failed status failed: %v", err)
	}

	_, err = s.Record(ctx, models.RequestPatch{
		RequesterId:     "S",
		Name:            "cool.base.eth",
		Status:          models.Ptr(models.StatusCompleted),
		TransactionHash: models.Ptr("0xabc"),
	})
	if !errors.Is(err, ErrImmutableRecord) {
		t.Fatalf("Expected ErrImmutableRecord, got %v", err)
	}

	latest, err := s.Latest(ctx, "S", "cool.base.eth")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Status != models.StatusFailed {
		t.Errorf("Expected status to stay failed, got %s", latest.Status)
	}
}

func TestRecord_RetryAfterTerminalSupersedes(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	first, err := s.Record(ctx, pendingPatch("S", "cool.base.eth", "0.011"))
	if err != nil {
		t.Fatalf("Record pending failed: %v", err)
	}
	if _, err := s.Record(ctx, models.RequestPatch{RequesterId: "S", Name: "cool.base.eth", Status: models.Ptr(models.StatusFailed)}); err != nil {
		t.Fatalf("Record failed status failed: %v", err)
	}

	*clock = clock.Add(time.Minute)
	second, err := s.Record(ctx, pendingPatch("S", "cool.base.eth", "0.011"))
	if err != nil {
		t.Fatalf("Record retry failed: %v", err)
	}
	if second.Id == first.Id {
		t.Fatal("Expected a new record for the retry")
	}

	records, _ := s.QueryByRequester(ctx, "S")
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Id != second.Id || records[1].Status != models.StatusFailed {
		t.Errorf("Expected retry first and the failed record kept, got %+v", records)
	}
}

func TestQueryByRequester_NewestFirst(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	names := []string{"aaa.base.eth", "bbbb.base.eth", "ccccc.base.eth"}
	for _, n := range names {
		if _, err := s.Record(ctx, pendingPatch("S", n, "0.0011")); err != nil {
			t.Fatalf("Record %s failed: %v", n, err)
		}
		*clock = clock.Add(time.Second)
	}
	if _, err := s.Record(ctx, pendingPatch("other", "ddd.base.eth", "0.11")); err != nil {
		t.Fatalf("Record other failed: %v", err)
	}

	records, err := s.QueryByRequester(ctx, "S")
	if err != nil {
		t.Fatalf("QueryByRequester failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].CreatedAt.Before(records[i].CreatedAt) {
			t.Errorf("Records not ordered newest first at %d", i)
		}
	}
	if records[0].Name != "ccccc.base.eth" {
		t.Errorf("Expected newest ccccc.base.eth, got %s", records[0].Name)
	}
}

func TestListPending(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	s.Record(ctx, pendingPatch("S", "aaa.base.eth", "0.11"))
	s.Record(ctx, pendingPatch("S", "bbbb.base.eth", "0.011"))
	s.Record(ctx, models.RequestPatch{RequesterId: "S", Name: "bbbb.base.eth", Status: models.Ptr(models.StatusFailed)})

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "aaa.base.eth" {
		t.Fatalf("Expected only aaa.base.eth pending, got %+v", pending)
	}
}

func TestMerge_Validation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		patch   models.RequestPatch
		wantErr error
	}{
		{"missing requester", models.RequestPatch{Name: "abc.base.eth"}, ErrInvalidPatch},
		{"unknown status", models.RequestPatch{RequesterId: "S", Name: "abc.base.eth", Status: models.Ptr("paid")}, ErrInvalidPatch},
		{"completed without hash", models.RequestPatch{RequesterId: "S", Name: "abc.base.eth", Status: models.Ptr(models.StatusCompleted)}, ErrInvalidTransition},
		{"hash on pending", models.RequestPatch{RequesterId: "S", Name: "abc.base.eth", TransactionHash: models.Ptr("0x1")}, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Merge(nil, tt.patch, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Merge() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLatest_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)
	if _, err := s.Latest(context.Background(), "S", "abc.base.eth"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
