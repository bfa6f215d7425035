package cost

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrCeilingExceeded is returned by Reserve when submitting the next batch
// would push cumulative spend over the configured ceiling. It is a graceful
// stop signal, not an unexpected failure.
var ErrCeilingExceeded = eris.New("cost: ceiling would be exceeded")

// Ledger accumulates estimated and actual spend for one run and enforces
// the optional ceiling. Estimates are reserved before submission and
// replaced by actual cost once the API reports token usage.
type Ledger struct {
	mu       sync.Mutex
	ceiling  float64 // 0 means unlimited
	total    float64
	reserved map[string]float64 // batch ID -> reserved estimate
}

// NewLedger creates a Ledger with the given ceiling; 0 disables the ceiling.
func NewLedger(ceiling float64) *Ledger {
	return &Ledger{
		ceiling:  ceiling,
		reserved: make(map[string]float64),
	}
}

// Reserve checks the ceiling including the batch's estimate and, if it
// fits, adds the estimate to the cumulative total. The run must halt before
// submitting the batch when ErrCeilingExceeded is returned.
func (l *Ledger) Reserve(batchID string, estimate float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ceiling > 0 && l.total+estimate > l.ceiling {
		return ErrCeilingExceeded
	}

	l.reserved[batchID] = estimate
	l.total += estimate
	return nil
}

// Settle replaces a batch's reserved estimate with its actual cost.
// Settling an unknown batch just adds the actual cost.
func (l *Ledger) Settle(batchID string, actual float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total += actual - l.reserved[batchID]
	delete(l.reserved, batchID)
}

// Release drops a reservation for a batch that was never submitted.
func (l *Ledger) Release(batchID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total -= l.reserved[batchID]
	delete(l.reserved, batchID)
}

// Total returns cumulative spend: settled actuals plus open reservations.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Resume seeds the ledger with spend carried over from a prior interrupted
// run, so the ceiling covers the whole manifest, not just this invocation.
func (l *Ledger) Resume(prior float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += prior
}
