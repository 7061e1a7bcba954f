package records

// BulkOutcome is the explicit per-element result of a bulk create. Lenient
// duplicate handling never collapses this: a duplicate is always reported as
// AlreadyExists, leniency only decides whether it also carries an error.
type BulkOutcome string

const (
	BulkCreated       BulkOutcome = "Created"
	BulkAlreadyExists BulkOutcome = "AlreadyExists"
	BulkRejected      BulkOutcome = "Rejected"
)

// BulkResult is the wire form of one bulk create outcome.
type BulkResult struct {
	RecordID string      `json:"record_id"`
	Outcome  BulkOutcome `json:"outcome"`
	Error    string      `json:"error,omitempty"`
}
