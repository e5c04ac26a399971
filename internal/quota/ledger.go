package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQuotaExceeded signals that a reservation would breach the user's storage limit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrReservationExpired is returned when committing a reservation the sweep already reclaimed.
	ErrReservationExpired = errors.New("reservation expired")
)

// usageStore reads per-user accounting. Implemented by the auth user repository.
// Usage writes happen inside the metadata store's transactions, never here, so a
// committed file row and its used-byte delta can only land together.
type usageStore interface {
	StorageAccount(ctx context.Context, userID uuid.UUID) (limit int64, used int64, err error)
}

// Reservation is a provisional, time-bounded claim on a user's remaining quota.
type Reservation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Bytes     int64
	CreatedAt time.Time
}

// Ledger serializes reserve/commit/release per user so that concurrent reservations
// are never evaluated against a stale total. Reservations live only in memory; used
// bytes are persisted by the callers' own transactions.
type Ledger struct {
	store usageStore
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	accounts map[uuid.UUID]*account
}

type account struct {
	mu           sync.Mutex
	evicted      bool
	reservations map[uuid.UUID]Reservation
}

// NewLedger constructs a ledger with the given reservation TTL.
func NewLedger(store usageStore, ttl time.Duration) *Ledger {
	return &Ledger{
		store:    store,
		ttl:      ttl,
		now:      time.Now,
		accounts: make(map[uuid.UUID]*account),
	}
}

func (l *Ledger) account(userID uuid.UUID) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[userID]
	if !ok {
		acc = &account{reservations: make(map[uuid.UUID]Reservation)}
		l.accounts[userID] = acc
	}
	return acc
}

// lockAccount returns the user's account with its mutex held. The sweep may evict
// an idle account between the map lookup and the lock, so retry until the locked
// account is the live one.
func (l *Ledger) lockAccount(userID uuid.UUID) *account {
	for {
		acc := l.account(userID)
		acc.mu.Lock()
		if !acc.evicted {
			return acc
		}
		acc.mu.Unlock()
	}
}

// Reserve claims bytes against the user's remaining quota. The claim counts toward
// concurrent reservations until it is committed, released, or swept.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, bytes int64) (Reservation, error) {
	if bytes < 0 {
		return Reservation{}, fmt.Errorf("negative reservation size %d", bytes)
	}

	acc := l.lockAccount(userID)
	defer acc.mu.Unlock()

	limit, used, err := l.store.StorageAccount(ctx, userID)
	if err != nil {
		return Reservation{}, fmt.Errorf("load storage account: %w", err)
	}

	var reserved int64
	for _, r := range acc.reservations {
		reserved += r.Bytes
	}

	if used+reserved+bytes > limit {
		return Reservation{}, ErrQuotaExceeded
	}

	res := Reservation{
		ID:        uuid.New(),
		UserID:    userID,
		Bytes:     bytes,
		CreatedAt: l.now(),
	}
	acc.reservations[res.ID] = res
	return res, nil
}

// Commit finalizes a reservation. persist must durably record the reserved bytes in
// the same transaction as whatever they pay for; the reservation is dropped only
// after persist succeeds, and stays counted against concurrent reserves while it
// runs. A persist failure (rolled back by the caller) leaves the reservation held,
// so the caller still releases it.
func (l *Ledger) Commit(ctx context.Context, res Reservation, persist func(context.Context) error) error {
	acc := l.lockAccount(res.UserID)
	defer acc.mu.Unlock()

	if _, ok := acc.reservations[res.ID]; !ok {
		return ErrReservationExpired
	}

	if err := persist(ctx); err != nil {
		return err
	}

	delete(acc.reservations, res.ID)
	return nil
}

// Release discards the reservation without touching persisted usage. Releasing an
// already-released reservation is a no-op.
func (l *Ledger) Release(res Reservation) {
	acc := l.lockAccount(res.UserID)
	defer acc.mu.Unlock()
	delete(acc.reservations, res.ID)
}

// SweepExpired releases every reservation older than the TTL and reports how many
// were dropped. Accounts left without reservations are evicted so the map does not
// grow with every user ever seen. Called by the reconciliation sweep, never on the
// request path.
func (l *Ledger) SweepExpired(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped int
	for userID, acc := range l.accounts {
		acc.mu.Lock()
		for id, res := range acc.reservations {
			if now.Sub(res.CreatedAt) > l.ttl {
				delete(acc.reservations, id)
				dropped++
			}
		}
		if len(acc.reservations) == 0 {
			acc.evicted = true
			delete(l.accounts, userID)
		}
		acc.mu.Unlock()
	}
	return dropped
}
