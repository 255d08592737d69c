package scheduler

import (
	"context"
	"time"
)

// ExternalRecord is one task or event as seen by an external system, kept
// deliberately narrow (the fields the conflict policy needs) rather than
// mirroring store.Task/store.Event, so ExternalSource implementations don't
// need to know this repo's row shapes.
type ExternalRecord struct {
	ExternalID string
	LocalID    string // empty when the external system has no known local counterpart
	Title      string
	DueAt      time.Time
	UpdatedAt  time.Time
}

// ExternalSource is the two-way reconciliation partner for external_sync.
// Kept as a small interface so the HTTP client specifics stay swappable — a
// deployment not using external_sync simply never configures one.
type ExternalSource interface {
	// Fetch returns every record the external system currently holds.
	Fetch(ctx context.Context) ([]ExternalRecord, error)
	// Push writes local-only records (no ExternalID yet) to the external
	// system, returning the assigned ExternalID for each input record, in
	// the same order.
	Push(ctx context.Context, records []ExternalRecord) ([]string, error)
}

// reconcile applies the conflict policy: external wins when both sides
// changed the same field (here, modeled as both records existing); local
// wins when a record is new locally (no matching external record).
// It returns the records to push to the external system (local-only) and
// the records to apply locally (external-only or changed on the external
// side).
func reconcile(local, external []ExternalRecord) (toPush []ExternalRecord, toApplyLocally []ExternalRecord) {
	externalByLocalID := make(map[string]ExternalRecord, len(external))
	for _, e := range external {
		if e.LocalID != "" {
			externalByLocalID[e.LocalID] = e
		}
	}

	seen := make(map[string]bool, len(local))
	for _, l := range local {
		seen[l.LocalID] = true
		if e, ok := externalByLocalID[l.LocalID]; ok {
			// Present on both sides: external wins on same-field change.
			if e.UpdatedAt.After(l.UpdatedAt) {
				toApplyLocally = append(toApplyLocally, e)
			}
			continue
		}
		// Local wins on new items: push records the external side has
		// never seen.
		toPush = append(toPush, l)
	}

	for _, e := range external {
		if e.LocalID == "" || !seen[e.LocalID] {
			toApplyLocally = append(toApplyLocally, e)
		}
	}
	return toPush, toApplyLocally
}
