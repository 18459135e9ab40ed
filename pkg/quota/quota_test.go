package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/photosync-io/photosync/pkg/store"
)

func setupQuota(t *testing.T) (*store.Store, *Manager, uint) {
	t.Helper()
	s, err := store.New(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	user, err := s.CreateUser(context.Background(), "quota@example.com", "x")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return s, NewManager(s, 0, true), user.ID
}

func TestReserveWithinQuota(t *testing.T) {
	_, m, userID := setupQuota(t)

	d, err := m.Reserve(context.Background(), userID, 100, 2_000_000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected admission, got %+v", d)
	}
	if got := m.Reserved(userID); got != 2_000_000 {
		t.Errorf("reserved = %d, want 2000000", got)
	}

	d.Release()
	if got := m.Reserved(userID); got != 0 {
		t.Errorf("reserved after release = %d, want 0", got)
	}

	// Idempotent release.
	d.Release()
	if got := m.Reserved(userID); got != 0 {
		t.Errorf("reserved after double release = %d, want 0", got)
	}
}

func TestReserveRejectsOverQuota(t *testing.T) {
	s, m, userID := setupQuota(t)

	// 99 GB already stored on a 100 GB plan.
	if err := s.InsertChunk(context.Background(), userID, "aa", 99*BytesPerGB); err != nil {
		t.Fatal(err)
	}

	d, err := m.Reserve(context.Background(), userID, 100, 2*BytesPerGB)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected rejection, got %+v", d)
	}
	if d.UsedBytes != 99*BytesPerGB {
		t.Errorf("usedBytes = %d", d.UsedBytes)
	}
	if d.QuotaBytes != 100*BytesPerGB+DefaultMarginBytes {
		t.Errorf("quotaBytes = %d", d.QuotaBytes)
	}
	if d.RemainingBytes != BytesPerGB {
		t.Errorf("remainingBytes = %d, want %d", d.RemainingBytes, BytesPerGB)
	}
	if got := m.Reserved(userID); got != 0 {
		t.Errorf("rejection must not reserve bytes, got %d", got)
	}
}

func TestReserveZeroIncomingIsNoOp(t *testing.T) {
	_, m, userID := setupQuota(t)
	d, err := m.Reserve(context.Background(), userID, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("zero incoming must be allowed")
	}
	d.Release() // must not panic or underflow
	if got := m.Reserved(userID); got != 0 {
		t.Errorf("reserved = %d", got)
	}
}

func TestReserveUnlimitedPlan(t *testing.T) {
	s, m, userID := setupQuota(t)
	if err := s.InsertChunk(context.Background(), userID, "bb", 500*BytesPerGB); err != nil {
		t.Fatal(err)
	}
	d, err := m.Reserve(context.Background(), userID, 0, BytesPerGB)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("zero plan means unlimited; expected admission")
	}
	d.Release()
}

func TestConcurrentReservationsNeverOvershoot(t *testing.T) {
	_, m, userID := setupQuota(t)

	// Plan fits ~100 GB; 64 workers each try to reserve 10 GB.
	// At most 10 may be admitted.
	const workers = 64
	incoming := 10 * BytesPerGB

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted int64
	decisions := make([]*Decision, 0, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.Reserve(context.Background(), userID, 100, incoming)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				admitted += incoming
				decisions = append(decisions, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted > 100*BytesPerGB {
		t.Errorf("admitted %d bytes, exceeds 100 GB plan", admitted)
	}
	if got := m.Reserved(userID); got != admitted {
		t.Errorf("reserved = %d, want %d", got, admitted)
	}

	for _, d := range decisions {
		d.Release()
	}
	if got := m.Reserved(userID); got != 0 {
		t.Errorf("reserved after releases = %d, want 0", got)
	}
}
