package feed

import "github.com/mmcdole/feedplay/internal/domain"

// Outcome says what a refreshed list means for the active item
type Outcome string

const (
	// OutcomeNone means nothing was active
	OutcomeNone Outcome = "none"
	// OutcomeKept means the active item is still listed, possibly moved
	OutcomeKept Outcome = "kept"
	// OutcomeRemoved means the active item was deleted upstream
	OutcomeRemoved Outcome = "removed"
	// OutcomeFallback means the active item is no longer listed
	OutcomeFallback Outcome = "fallback"
	// OutcomeCleared means the refreshed list is empty
	OutcomeCleared Outcome = "cleared"
)

// Reconciliation is the result of Reconcile. Index is -1 unless an item
// should become (or stay) active.
type Reconciliation struct {
	Outcome Outcome
	Index   int
}

// Reconcile matches the active identity against a refreshed list
func Reconcile(items []domain.FeedItem, activeID, reason string) Reconciliation {
	if len(items) == 0 {
		return Reconciliation{Outcome: OutcomeCleared, Index: -1}
	}
	if activeID == "" {
		return Reconciliation{Outcome: OutcomeNone, Index: -1}
	}
	if i := IndexOf(items, activeID); i >= 0 {
		return Reconciliation{Outcome: OutcomeKept, Index: i}
	}
	if (domain.FeedEvent{Reason: reason}).IsDeletion() {
		return Reconciliation{Outcome: OutcomeRemoved, Index: -1}
	}
	return Reconciliation{Outcome: OutcomeFallback, Index: 0}
}

// IndexOf returns the position of identity in items, or -1
func IndexOf(items []domain.FeedItem, identity string) int {
	if identity == "" {
		return -1
	}
	for i, item := range items {
		if item.Identity() == identity {
			return i
		}
	}
	return -1
}
