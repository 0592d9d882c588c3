package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/model"
)

// fakeRedis is an in-memory redisClient
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		f.data[key] = fmt.Sprint(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func drivers(t *testing.T) map[string]Store {
	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "data", "database.json")),
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(newFakeRedis(), ""),
	}
}

func TestReadCreatesDefaultDocument(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			db, err := s.Read(context.Background())
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if db.SchemaVersion != model.SchemaVersion {
				t.Errorf("SchemaVersion = %d, want %d", db.SchemaVersion, model.SchemaVersion)
			}
			if db.Policies == nil || db.Beneficiaries == nil || db.Claims == nil ||
				db.JunoTransactions == nil || db.Clabes == nil || db.SystemLogs == nil {
				t.Error("all collections should be non-nil")
			}
		})
	}
}

func TestWriteThenRead(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := model.NewDatabase()
			db.Policies = append(db.Policies, model.Policy{ID: "p1", PolicyNumber: "EL-12345678-ABCD", Status: model.PolicyPending})

			if err := s.Write(ctx, db); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			got, err := s.Read(ctx)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if len(got.Policies) != 1 || got.Policies[0].PolicyNumber != "EL-12345678-ABCD" {
				t.Errorf("unexpected policies: %+v", got.Policies)
			}
		})
	}
}

func TestReadReturnsPrivateCopy(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := model.NewDatabase()
			db.Policies = append(db.Policies, model.Policy{ID: "p1", Status: model.PolicyPending})
			if err := s.Write(ctx, db); err != nil {
				t.Fatal(err)
			}

			first, _ := s.Read(ctx)
			first.Policies[0].Status = model.PolicyActive

			second, _ := s.Read(ctx)
			if second.Policies[0].Status != model.PolicyPending {
				t.Error("mutating a read copy leaked into the store")
			}
		})
	}
}

func TestFileStoreSchemaVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "database.json")
	s := NewFileStore(path)

	legacy := `{"policies":[{"id":"p1"}],"beneficiaries":[],"claims":[],"junoTransactions":[],"clabes":[],"systemLogs":[]}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	db, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read() legacy error = %v", err)
	}
	if db.SchemaVersion != 1 {
		t.Errorf("legacy document should upgrade to version 1, got %d", db.SchemaVersion)
	}

	future, _ := json.Marshal(map[string]interface{}{"schemaVersion": 99})
	if err := os.WriteFile(path, future, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(ctx); err == nil {
		t.Error("expected error for newer schema version")
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "database.json"))
	for i := 0; i < 3; i++ {
		if err := s.Write(context.Background(), model.NewDatabase()); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only database.json, found %d entries", len(entries))
	}
}

func TestDocumentsUpdateSerializesWriters(t *testing.T) {
	docs := NewDocuments(NewMemoryStore())
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := docs.Update(ctx, func(db *model.Database) error {
				db.SystemLogs = append(db.SystemLogs, model.SystemLog{ID: fmt.Sprintf("log-%d", i)})
				return nil
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	var count int
	_ = docs.View(ctx, func(db *model.Database) error {
		count = len(db.SystemLogs)
		return nil
	})
	if count != writers {
		t.Errorf("expected %d entries, got %d (lost updates)", writers, count)
	}
}

func TestDocumentsUpdateAbortsOnError(t *testing.T) {
	docs := NewDocuments(NewMemoryStore())
	ctx := context.Background()
	sentinel := errors.New("reject")

	err := docs.Update(ctx, func(db *model.Database) error {
		db.Policies = append(db.Policies, model.Policy{ID: "p1"})
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	_ = docs.View(ctx, func(db *model.Database) error {
		if len(db.Policies) != 0 {
			t.Error("aborted update should not be written")
		}
		return nil
	})
}

func TestDocumentsWrapsWriteFailure(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = errors.New("READONLY")
	docs := NewDocuments(newRedisStore(fake, "k"))

	err := docs.Update(context.Background(), func(db *model.Database) error { return nil })
	if !apperr.Is(err, apperr.KindPersistence) {
		t.Errorf("expected persistence error, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"file", false},
		{"", false},
		{"memory", false},
		{"redis", false},
		{"sqlite", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			_, err := Open(model.StoreConfig{Driver: tt.driver, Path: filepath.Join(t.TempDir(), "db.json")})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}
