package orchestrator

import "github.com/distr1/pkgdir/internal/pkgmeta"

// historyCapacity is the fixed ring-buffer capacity spec.md §3/§8 mandate.
const historyCapacity = 100

// ring is a fixed-capacity, newest-first sequence of BuildHistoryItem
// values. It evicts the oldest entry once full.
type ring struct {
	items []pkgmeta.BuildHistoryItem
}

func newRing() *ring {
	return &ring{items: make([]pkgmeta.BuildHistoryItem, 0, historyCapacity)}
}

// push adds item to the front of the ring, evicting the oldest entry if the
// ring is already at capacity.
func (r *ring) push(item pkgmeta.BuildHistoryItem) {
	r.items = append([]pkgmeta.BuildHistoryItem{item}, r.items...)
	if len(r.items) > historyCapacity {
		r.items = r.items[:historyCapacity]
	}
}

// snapshot returns a copy of the ring's contents, newest first.
func (r *ring) snapshot() []pkgmeta.BuildHistoryItem {
	out := make([]pkgmeta.BuildHistoryItem, len(r.items))
	copy(out, r.items)
	return out
}
