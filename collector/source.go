package collector

import (
	"context"

	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

// Item is one job observation produced by a source. The collector derives
// the record_id from the configured prefix and the JobID, so sources stay
// unaware of the record naming scheme.
type Item struct {
	JobID    string
	Record   records.Record
	Complete bool
}

// Source produces job observations from an upstream batch system. Fetch
// returns the items that appeared after the given cursor, plus the new
// cursor. The cursor encoding belongs to the source; the collector only
// persists it. A source that cannot reach its upstream returns an
// UpstreamError so the collector backs off instead of advancing the cursor.
type Source interface {
	Fetch(ctx context.Context, cursor []byte) (items []Item, next []byte, err error)
}

// Enricher is optionally implemented by sources that can fill in metrics
// which were missing at collection time. The collector calls it for queued
// incomplete entries before each delivery attempt.
type Enricher interface {
	Enrich(ctx context.Context, rec records.Record) (enriched records.Record, complete bool, err error)
}
