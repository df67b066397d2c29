package record

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// MemoryGateway implements Gateway with an in-process map. Used by the
// standalone dev binary and by tests.
type MemoryGateway struct {
	mu      sync.Mutex
	nextID  int64
	records map[memoryKey]*Record
}

type memoryKey struct {
	hash string
	sig  string
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		nextID:  1,
		records: make(map[memoryKey]*Record),
	}
}

func (g *MemoryGateway) FindByKey(ctx context.Context, hash, sig string) (*Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[memoryKey{hash, sig}]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (g *MemoryGateway) MarkProcessing(ctx context.Context, hash, sig string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := memoryKey{hash, sig}
	now := time.Now()
	if rec, ok := g.records[key]; ok {
		rec.Status = imagecache.StatusProcessing
		rec.UpdatedAt = now
		return nil
	}
	g.records[key] = &Record{
		ID:        g.nextID,
		Hash:      hash,
		Sig:       sig,
		MIME:      "application/octet-stream",
		Status:    imagecache.StatusProcessing,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.nextID++
	return nil
}

func (g *MemoryGateway) UpsertReady(ctx context.Context, hash, sig string, attrs ReadyAttrs) (*Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := memoryKey{hash, sig}
	now := time.Now()
	rec, ok := g.records[key]
	if !ok {
		rec = &Record{
			ID:        g.nextID,
			Hash:      hash,
			Sig:       sig,
			Version:   0,
			CreatedAt: now,
		}
		g.nextID++
		g.records[key] = rec
	}

	rec.Bucket = attrs.Bucket
	rec.Key = attrs.Key
	rec.Width = attrs.Width
	rec.Height = attrs.Height
	rec.MIME = attrs.MIME
	rec.SizeBytes = attrs.SizeBytes
	rec.Status = imagecache.StatusReady
	rec.Version++
	rec.UpdatedAt = now

	copied := *rec
	return &copied, nil
}

func (g *MemoryGateway) Version(ctx context.Context, hash, sig string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[memoryKey{hash, sig}]
	if !ok {
		return 0, nil
	}
	return rec.Version, nil
}
