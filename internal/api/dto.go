package api

import (
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/library"
	"github.com/starford/raido/internal/tagindex"
)

// ImportRequest is the request body for queueing an import batch.
type ImportRequest struct {
	// Paths are library-relative image files.
	Paths []string `json:"paths" example:"trips/coast.png" validate:"required"`
	Tags  []string `json:"tags,omitempty" example:"landscape,2024"`
	// Wait blocks the request until the batch finishes instead of
	// returning immediately.
	Wait bool `json:"wait,omitempty"`
}

// ImportResponse reports a queued (or, with Wait, finished) batch.
type ImportResponse struct {
	BatchID   int64 `json:"batch_id" example:"3" validate:"required"`
	Queued    int   `json:"queued" example:"2" validate:"required"`
	Completed int   `json:"completed,omitempty"`
	Failed    int   `json:"failed,omitempty"`
}

// TagsRequest carries tags to attach or detach.
type TagsRequest struct {
	Tags []string `json:"tags" example:"landscape,evening" validate:"required"`
}

// Item is the full item response type (aliased from the domain layer).
type Item = itemstore.Item

// ItemListResponse wraps search results.
type ItemListResponse struct {
	Items []Item `json:"items" validate:"required"`
	Total int    `json:"total" example:"42" validate:"required"`
}

// TagListResponse wraps the tag inventory.
type TagListResponse struct {
	Tags []tagindex.TagCount `json:"tags" validate:"required"`
}

// ExportRequest selects which items go into an archive.
type ExportRequest struct {
	Tags  []string `json:"tags,omitempty" example:"landscape"`
	Fuzzy string   `json:"fuzzy,omitempty" example:"lndscp"`
}

// StatusResponse reports library counters (aliased from the domain layer).
type StatusResponse = library.Status
