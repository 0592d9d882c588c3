package store

import (
	"context"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/extralife/internal/model"
)

const memoryKey = "database"

// MemoryStore keeps the serialized document in process memory. Bytes are
// stored rather than the struct so no caller shares slices with another.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Read returns a decoded copy of the document
func (s *MemoryStore) Read(ctx context.Context) (*model.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, found := s.cache.Get(memoryKey)
	if !found {
		db := model.NewDatabase()
		if err := s.Write(ctx, db); err != nil {
			return nil, err
		}
		return db, nil
	}
	return decode(val.([]byte))
}

// Write replaces the document
func (s *MemoryStore) Write(ctx context.Context, db *model.Database) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(db)
	if err != nil {
		return err
	}
	s.cache.Set(memoryKey, data, gocache.NoExpiration)
	return nil
}
