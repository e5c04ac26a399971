package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeUsageStore struct {
	mu    sync.Mutex
	limit int64
	used  map[uuid.UUID]int64
}

func newFakeUsageStore(limit int64) *fakeUsageStore {
	return &fakeUsageStore{limit: limit, used: make(map[uuid.UUID]int64)}
}

func (f *fakeUsageStore) StorageAccount(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit, f.used[userID], nil
}

// add stands in for the usage write the metadata transaction performs.
func (f *fakeUsageStore) add(userID uuid.UUID, delta int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.used[userID] + delta
	if next < 0 {
		next = 0
	}
	f.used[userID] = next
}

func (f *fakeUsageStore) usedFor(userID uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used[userID]
}

func TestReserveCommitMovesBytesToUsed(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)
	userID := uuid.New()

	res, err := ledger.Reserve(context.Background(), userID, 400)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if store.usedFor(userID) != 0 {
		t.Fatalf("reservation must not touch used bytes, got %d", store.usedFor(userID))
	}

	err = ledger.Commit(context.Background(), res, func(context.Context) error {
		store.add(userID, 400)
		return nil
	})
	if err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if store.usedFor(userID) != 400 {
		t.Fatalf("expected 400 used bytes, got %d", store.usedFor(userID))
	}

	// The reservation is gone; only the persisted bytes count now.
	if _, err := ledger.Reserve(context.Background(), userID, 600); err != nil {
		t.Fatalf("expected remaining quota to be reservable, got %v", err)
	}
}

func TestCommitPersistFailureKeepsReservation(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)
	userID := uuid.New()

	res, err := ledger.Reserve(context.Background(), userID, 700)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	persistErr := errors.New("insert failed")
	err = ledger.Commit(context.Background(), res, func(context.Context) error {
		return persistErr
	})
	if !errors.Is(err, persistErr) {
		t.Fatalf("expected persist error, got %v", err)
	}

	// Nothing was persisted and the reservation still blocks the quota.
	if store.usedFor(userID) != 0 {
		t.Fatalf("failed commit must not change used bytes, got %d", store.usedFor(userID))
	}
	if _, err := ledger.Reserve(context.Background(), userID, 500); err != ErrQuotaExceeded {
		t.Fatalf("expected reservation to still be held, got %v", err)
	}

	ledger.Release(res)
	if _, err := ledger.Reserve(context.Background(), userID, 500); err != nil {
		t.Fatalf("expected quota back after release, got %v", err)
	}
}

func TestReserveCountsActiveReservations(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)
	userID := uuid.New()

	if _, err := ledger.Reserve(context.Background(), userID, 600); err != nil {
		t.Fatalf("first reservation failed: %v", err)
	}
	if _, err := ledger.Reserve(context.Background(), userID, 600); err != ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestReleaseFreesReservedBytes(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)
	userID := uuid.New()

	res, err := ledger.Reserve(context.Background(), userID, 900)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	ledger.Release(res)

	if _, err := ledger.Reserve(context.Background(), userID, 900); err != nil {
		t.Fatalf("expected reservation after release, got %v", err)
	}
	if store.usedFor(userID) != 0 {
		t.Fatalf("release must not touch used bytes, got %d", store.usedFor(userID))
	}
}

func TestConcurrentReservationsNeverOverflowLimit(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)
	userID := uuid.New()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Reserve(context.Background(), userID, 600)
			if err != nil {
				results <- err
				return
			}
			results <- ledger.Commit(context.Background(), res, func(context.Context) error {
				store.add(userID, 600)
				return nil
			})
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case ErrQuotaExceeded:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one success and one rejection, got %d/%d", succeeded, rejected)
	}
	if store.usedFor(userID) != 600 {
		t.Fatalf("expected 600 used bytes, got %d", store.usedFor(userID))
	}
}

func TestSweepExpiredReleasesAbandonedReservations(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)
	userID := uuid.New()

	res, err := ledger.Reserve(context.Background(), userID, 800)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	if dropped := ledger.SweepExpired(res.CreatedAt.Add(30 * time.Second)); dropped != 0 {
		t.Fatalf("fresh reservation swept, dropped=%d", dropped)
	}
	if dropped := ledger.SweepExpired(res.CreatedAt.Add(2 * time.Minute)); dropped != 1 {
		t.Fatalf("expected 1 swept reservation, got %d", dropped)
	}

	err = ledger.Commit(context.Background(), res, func(context.Context) error {
		t.Fatal("persist must not run for a swept reservation")
		return nil
	})
	if err != ErrReservationExpired {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
	if _, err := ledger.Reserve(context.Background(), userID, 800); err != nil {
		t.Fatalf("expected quota to be available after sweep, got %v", err)
	}
}

func TestSweepEvictsIdleAccounts(t *testing.T) {
	store := newFakeUsageStore(1000)
	ledger := NewLedger(store, time.Minute)

	for i := 0; i < 10; i++ {
		userID := uuid.New()
		res, err := ledger.Reserve(context.Background(), userID, 100)
		if err != nil {
			t.Fatalf("Reserve returned error: %v", err)
		}
		ledger.Release(res)
	}

	held := uuid.New()
	if _, err := ledger.Reserve(context.Background(), held, 100); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	ledger.SweepExpired(time.Now())

	ledger.mu.Lock()
	remaining := len(ledger.accounts)
	ledger.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected only the account with a live reservation to survive, got %d", remaining)
	}

	// An evicted account comes back transparently on the next reserve.
	if _, err := ledger.Reserve(context.Background(), uuid.New(), 100); err != nil {
		t.Fatalf("Reserve after eviction returned error: %v", err)
	}
}
