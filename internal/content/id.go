package content

import "github.com/google/uuid"

// IDGenerator produces node identifiers. IDs are assigned once at creation
// and survive renames and moves.
type IDGenerator func(kind Kind) string

// UUIDv7IDs prefixes a time-sortable UUID with the node kind, e.g.
// "file-0190b6c1-...".
func UUIDv7IDs() IDGenerator {
	return func(kind Kind) string {
		return string(kind) + "-" + uuid.Must(uuid.NewV7()).String()
	}
}
