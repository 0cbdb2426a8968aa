package domain

import (
	"github.com/shopspring/decimal"
)

// ScanSession accumulates unique scanned unit identifiers for one delivery
// or batch and derives a quantity from the count. It is owned by a single
// workflow instance and is not safe for concurrent use.
type ScanSession struct {
	unitWeightKg decimal.Decimal
	units        []string
	seen         map[string]struct{}
	consumed     bool
}

// NewScanSession creates a session whose units each weigh unitWeightKg.
func NewScanSession(unitWeightKg decimal.Decimal) *ScanSession {
	return &ScanSession{
		unitWeightKg: unitWeightKg,
		seen:         make(map[string]struct{}),
	}
}

// RestoreScanSession rebuilds a session from persisted unit identifiers.
// Duplicate identifiers in the stored sequence are a data fault and are
// reported as such rather than silently folded.
func RestoreScanSession(unitWeightKg decimal.Decimal, units []string, consumed bool) (*ScanSession, error) {
	s := NewScanSession(unitWeightKg)
	for _, id := range units {
		if _, err := s.Add(id); err != nil {
			return nil, err
		}
	}
	s.consumed = consumed
	return s, nil
}

// Add appends a unit identifier and returns the new count. Re-scanning an
// identifier already present fails with DUPLICATE_UNIT and leaves the count
// unchanged.
func (s *ScanSession) Add(id string) (int, error) {
	if s.consumed {
		return len(s.units), Errorf(KindInvalidTransition, "scan session already consumed")
	}
	if id == "" {
		return len(s.units), Errorf(KindValidation, "unit identifier must not be empty")
	}
	if _, ok := s.seen[id]; ok {
		return len(s.units), Errorf(KindDuplicateUnit, "unit %q already scanned", id)
	}
	s.seen[id] = struct{}{}
	s.units = append(s.units, id)
	return len(s.units), nil
}

// Remove deletes a previously added identifier, correcting a mis-scan.
func (s *ScanSession) Remove(id string) (int, error) {
	if s.consumed {
		return len(s.units), Errorf(KindInvalidTransition, "scan session already consumed")
	}
	if _, ok := s.seen[id]; !ok {
		return len(s.units), Errorf(KindNotFound, "unit %q not in session", id)
	}
	delete(s.seen, id)
	for i, u := range s.units {
		if u == id {
			s.units = append(s.units[:i], s.units[i+1:]...)
			break
		}
	}
	return len(s.units), nil
}

// Count returns the number of unique units scanned so far.
func (s *ScanSession) Count() int {
	return len(s.units)
}

// Units returns the ordered unit identifiers.
func (s *ScanSession) Units() []string {
	out := make([]string, len(s.units))
	copy(out, s.units)
	return out
}

// Consumed reports whether Finalize has already run.
func (s *ScanSession) Consumed() bool {
	return s.consumed
}

// Finalize yields (count, count x unit weight) and marks the session
// consumed. A consumed session rejects further Add/Remove/Finalize.
func (s *ScanSession) Finalize() (int, decimal.Decimal, error) {
	if s.consumed {
		return 0, decimal.Zero, Errorf(KindInvalidTransition, "scan session already consumed")
	}
	s.consumed = true
	count := len(s.units)
	return count, s.unitWeightKg.Mul(decimal.NewFromInt(int64(count))), nil
}
