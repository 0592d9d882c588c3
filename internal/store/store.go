package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/model"
)

// Store persists the whole database document
type Store interface {
	// Read returns a private copy of the current document, creating the
	// default empty document when none exists
	Read(ctx context.Context) (*model.Database, error)
	// Write replaces the stored document
	Write(ctx context.Context, db *model.Database) error
}

// Open selects a store driver from configuration
func Open(cfg model.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// decode parses a stored document and checks its schema version
func decode(data []byte) (*model.Database, error) {
	var db model.Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("unmarshal database: %w", err)
	}
	if db.SchemaVersion > model.SchemaVersion {
		return nil, fmt.Errorf("database schema version %d is newer than supported %d", db.SchemaVersion, model.SchemaVersion)
	}
	if db.SchemaVersion == 0 {
		db.SchemaVersion = model.SchemaVersion
	}
	db.Normalize()
	return &db, nil
}

func encode(db *model.Database) ([]byte, error) {
	if db.SchemaVersion == 0 {
		db.SchemaVersion = model.SchemaVersion
	}
	db.Normalize()
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal database: %w", err)
	}
	return data, nil
}

// ErrSkipWrite returned from an Update callback ends the update without
// writing and without error
var ErrSkipWrite = errors.New("skip write")

// Documents serializes every read-modify-write cycle on a Store through one
// mutex, so writers in this process never overwrite each other's changes.
// Separate processes sharing a backing file are still last-writer-wins.
type Documents struct {
	mu    sync.Mutex
	store Store
}

// NewDocuments wraps a store
func NewDocuments(s Store) *Documents {
	return &Documents{store: s}
}

// View runs fn against a snapshot of the document
func (d *Documents) View(ctx context.Context, fn func(db *model.Database) error) error {
	d.mu.Lock()
	db, err := d.store.Read(ctx)
	d.mu.Unlock()
	if err != nil {
		return apperr.Persistence("read database", err)
	}
	return fn(db)
}

// Update reads the document, lets fn mutate it, and writes it back while
// holding the lock. A non-nil error from fn aborts the write.
func (d *Documents) Update(ctx context.Context, fn func(db *model.Database) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.store.Read(ctx)
	if err != nil {
		return apperr.Persistence("read database", err)
	}

	if err := fn(db); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		return err
	}

	if err := d.store.Write(ctx, db); err != nil {
		return apperr.Persistence("write database", err)
	}
	return nil
}
