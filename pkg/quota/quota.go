// Package quota admits or rejects incoming bytes against a tenant's plan.
//
// Reservations are taken under a per-tenant serial section so two parallel
// uploads cannot both pass an independent check and overshoot the plan.
// The lock and the reservation counters are process-local; multi-process
// deployments need a reservation table with compare-and-swap instead.
package quota

import (
	"context"
	"sync"

	"github.com/photosync-io/photosync/pkg/store"
)

// DefaultMarginBytes is the fixed overhead added on top of the plan (50 MiB).
const DefaultMarginBytes = int64(50 * 1024 * 1024)

// BytesPerGB converts plan tiers to bytes (decimal gigabytes).
const BytesPerGB = int64(1_000_000_000)

// Decision is the outcome of a reservation attempt. The counters are
// included on rejection so the client can show remaining headroom.
type Decision struct {
	Allowed        bool
	QuotaBytes     int64
	UsedBytes      int64
	ReservedBytes  int64
	RemainingBytes int64

	reservation *reservation
}

// Release returns the reserved bytes to the tenant. It is idempotent and
// must be called on every exit path of the request that took it.
func (d *Decision) Release() {
	if d.reservation != nil {
		d.reservation.release()
	}
}

type reservation struct {
	once    sync.Once
	mgr     *Manager
	userID  uint
	bytes   int64
}

func (r *reservation) release() {
	r.once.Do(func() {
		r.mgr.releaseBytes(r.userID, r.bytes)
	})
}

type tenantState struct {
	mu       sync.Mutex
	reserved int64
	waiters  int
}

// Manager tracks used plus reserved bytes per tenant.
type Manager struct {
	store       *store.Store
	marginBytes int64
	lockEnabled bool

	mu      sync.Mutex
	tenants map[uint]*tenantState
}

// NewManager creates a quota manager. marginBytes <= 0 uses the default;
// lockEnabled=false bypasses the per-tenant serial section (compat switch,
// not recommended).
func NewManager(s *store.Store, marginBytes int64, lockEnabled bool) *Manager {
	if marginBytes <= 0 {
		marginBytes = DefaultMarginBytes
	}
	return &Manager{
		store:       s,
		marginBytes: marginBytes,
		lockEnabled: lockEnabled,
		tenants:     make(map[uint]*tenantState),
	}
}

// MarginBytes returns the configured reservation margin.
func (m *Manager) MarginBytes() int64 {
	return m.marginBytes
}

// acquire returns the tenant state with its waiter count bumped.
func (m *Manager) acquire(userID uint) *tenantState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tenants[userID]
	if !ok {
		ts = &tenantState{}
		m.tenants[userID] = ts
	}
	ts.waiters++
	return ts
}

// releaseState drops the waiter count and purges the entry once the wait
// chain has drained and no bytes remain reserved.
func (m *Manager) releaseState(userID uint, ts *tenantState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts.waiters--
	if ts.waiters == 0 && ts.reserved == 0 {
		delete(m.tenants, userID)
	}
}

func (m *Manager) releaseBytes(userID uint, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tenants[userID]
	if !ok {
		return
	}
	ts.reserved -= bytes
	if ts.reserved < 0 {
		ts.reserved = 0
	}
	if ts.waiters == 0 && ts.reserved == 0 {
		delete(m.tenants, userID)
	}
}

// Reserve admits incoming bytes against planGB. A zero plan is unlimited
// for callers that reached this point through a gate. incoming <= 0 is a
// no-op that returns an always-allowed decision without locking.
func (m *Manager) Reserve(ctx context.Context, userID uint, planGB int, incoming int64) (*Decision, error) {
	if incoming <= 0 {
		return &Decision{Allowed: true}, nil
	}

	planBytes := int64(planGB) * BytesPerGB
	quotaBytes := planBytes + m.marginBytes

	ts := m.acquire(userID)
	defer m.releaseState(userID, ts)

	if m.lockEnabled {
		ts.mu.Lock()
		defer ts.mu.Unlock()
	}

	used, err := m.store.SumChunkSizes(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	reserved := ts.reserved
	m.mu.Unlock()

	decision := &Decision{
		QuotaBytes:    quotaBytes,
		UsedBytes:     used,
		ReservedBytes: reserved,
	}
	decision.RemainingBytes = planBytes - used - reserved
	if decision.RemainingBytes < 0 {
		decision.RemainingBytes = 0
	}

	if planBytes > 0 && used+reserved+incoming+m.marginBytes > quotaBytes {
		decision.Allowed = false
		return decision, nil
	}

	m.mu.Lock()
	ts.reserved += incoming
	m.mu.Unlock()

	decision.Allowed = true
	decision.reservation = &reservation{mgr: m, userID: userID, bytes: incoming}
	return decision, nil
}

// Reserved reports the bytes currently reserved for a tenant. Test hook.
func (m *Manager) Reserved(userID uint) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.tenants[userID]; ok {
		return ts.reserved
	}
	return 0
}
