package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest requests aggregated sync outcomes for one data owner.

type SummaryRequest struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

// Summary aggregates over the immutable sync_records and audit_entries.
// Skipped deliveries never create new records, so they do not appear here;
// what is counted is logical changes, not deliveries.

type Summary struct {
	OwnerID string `json:"owner_id"`

	TotalEvents int `json:"total_events"`
	Applied     int `json:"applied"`
	Failed      int `json:"failed"`

	ByEntityType map[string]int `json:"by_entity_type"`
	ByOperation  map[string]int `json:"by_operation"`

	// ConflictsResolved counts field-ownership resolutions recorded in the
	// audit trail.
	ConflictsResolved int `json:"conflicts_resolved"`
}
