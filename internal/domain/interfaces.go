package domain

import "context"

// Discoverer enumerates supported source files under the input root and
// assigns stable document identifiers in deterministic order.
type Discoverer interface {
	Discover(ctx context.Context) ([]*DocumentRecord, error)
}

// Normalizer produces the canonical PDF for one discovered document.
type Normalizer interface {
	Normalize(ctx context.Context, rec *DocumentRecord) error
}

// Rasterizer splits a canonical PDF into one image per page.
type Rasterizer interface {
	Rasterize(ctx context.Context, rec *DocumentRecord) error
}

// Summarizer fills page and document summaries across the whole index,
// skipping anything already summarized.
type Summarizer interface {
	Summarize(ctx context.Context, ix *DataRoomIndex) error
}

// Store persists and reloads the index artifact. Load reports
// fs.ErrNotExist when no index has been written yet.
type Store interface {
	Save(ix *DataRoomIndex) error
	Load() (*DataRoomIndex, error)
}
