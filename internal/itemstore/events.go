package itemstore

import (
	"time"

	"github.com/starford/raido/internal/digest"
)

// Kind classifies a store mutation.
type Kind uint8

const (
	// KindCreated is emitted on first import of a distinct digest.
	// Event.Tags carries the item's full initial tag set.
	KindCreated Kind = iota + 1
	// KindTagsAdded carries only the tags newly added to the item.
	KindTagsAdded
	// KindTagsRemoved carries only the tags actually removed.
	KindTagsRemoved
	// KindRemoved is emitted on explicit item deletion. Event.Tags
	// carries the item's final tag set so derived indexes can unlink
	// it without a store lookup.
	KindRemoved
)

// String returns the event kind name used in logs and SSE payloads.
func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindTagsAdded:
		return "tags_added"
	case KindTagsRemoved:
		return "tags_removed"
	case KindRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one committed mutation. Events for the same digest
// are dispatched in commit order; derived consumers (TagIndex,
// ArtifactCache) apply them idempotently.
type Event struct {
	Digest    digest.Digest
	Kind      Kind
	Tags      []string
	CreatedAt time.Time
}
