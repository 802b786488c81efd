package inventory

import "testing"

// MemoryLedger exposes a Service over the in-memory repository to the
// external test package.
type MemoryLedger struct {
	*Service
	repo *memoryRepo
}

func NewMemoryLedger(t *testing.T, cfg Config) *MemoryLedger {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, cfg, Options{Idempotency: &memoryIdempotency{}})
	t.Cleanup(svc.Close)
	return &MemoryLedger{Service: svc, repo: repo}
}

func (m *MemoryLedger) FailOn(op string) { m.repo.failOn = op }

func (m *MemoryLedger) Quantity(productID, warehouseID int64) int64 {
	return m.repo.record(productID, warehouseID).Quantity
}

func (m *MemoryLedger) CountKind(kind MovementKind) int {
	var n int
	for _, e := range m.repo.entries() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
