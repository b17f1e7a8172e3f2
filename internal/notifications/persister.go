package notifications

import "context"

// Имена записей в долговременном хранилище.
const (
	RecordLog  = "notification_log"
	RecordKeys = "notified_keys"
)

// Persister is a durable key-value store for the two store records.
// SaveRecords must write all given records as one commit.
type Persister interface {
	LoadRecords(ctx context.Context, names ...string) (map[string][]byte, error)
	SaveRecords(ctx context.Context, records map[string][]byte) error
}
