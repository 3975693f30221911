// Package reorder computes activity order after a single-element move.
package reorder

import (
	"sort"

	"github.com/dcossios/TravelAgent/internal/domain"
)

// Sorted returns a copy of items stably sorted by Order.
func Sorted(items []domain.Activity) []domain.Activity {
	out := append([]domain.Activity(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Move removes movedID and reinserts it at targetID's index. Every item of
// the result gets its new zero-based position, both in Order and in the
// returned updates. An unknown id or movedID == targetID returns the input
// unchanged with no updates.
func Move(items []domain.Activity, movedID, targetID string) ([]domain.Activity, []domain.OrderUpdate) {
	from, to := -1, -1
	for i, a := range items {
		if a.ID == movedID {
			from = i
		}
		if a.ID == targetID {
			to = i
		}
	}
	if from < 0 || to < 0 || from == to {
		return items, nil
	}

	out := make([]domain.Activity, 0, len(items))
	out = append(out, items[:from]...)
	out = append(out, items[from+1:]...)
	out = append(out[:to], append([]domain.Activity{items[from]}, out[to:]...)...)

	updates := make([]domain.OrderUpdate, len(out))
	for i := range out {
		out[i].Order = i
		updates[i] = domain.OrderUpdate{ID: out[i].ID, Order: i}
	}
	return out, updates
}
