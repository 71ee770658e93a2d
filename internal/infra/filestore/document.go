package filestore

import (
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

// DocumentConfig configures a Document.
type DocumentConfig struct {
	FilePath string      // empty = in-memory only
	Perm     os.FileMode // file permissions; default 0o600
}

// Document is a mutex-guarded value backed by a single JSON file.
// Every successful Mutate rewrites the file atomically, so related records
// held in one document change together.
type Document[T any] struct {
	mu       sync.RWMutex
	value    T
	filePath string
	perm     os.FileMode
}

// NewDocument creates a Document holding initial. Call Load to populate from disk.
func NewDocument[T any](cfg DocumentConfig, initial T) *Document[T] {
	perm := cfg.Perm
	if perm == 0 {
		perm = 0o600
	}
	return &Document[T]{value: initial, filePath: cfg.FilePath, perm: perm}
}

// Persistent reports whether the document is file backed.
func (d *Document[T]) Persistent() bool {
	return d.filePath != ""
}

// Load reads the backing file into the in-memory value.
// No-op if filePath is empty or the file doesn't exist.
func (d *Document[T]) Load() error {
	if d.filePath == "" {
		return nil
	}
	data, err := ReadFileOrEmpty(d.filePath)
	if err != nil || data == nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Unmarshal(data, &d.value)
}

// Read calls fn with the value under a read lock. fn must not retain or mutate it.
func (d *Document[T]) Read(fn func(value *T)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(&d.value)
}

// Mutate gives fn exclusive access to the value and persists afterwards.
// If fn or persistence fails, the value is restored from the pre-call snapshot
// produced by clone.
func (d *Document[T]) Mutate(clone func(T) T, fn func(value *T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := clone(d.value)
	if err := fn(&d.value); err != nil {
		d.value = snapshot
		return err
	}
	if err := d.persistLocked(); err != nil {
		d.value = snapshot
		return err
	}
	return nil
}

func (d *Document[T]) persistLocked() error {
	if d.filePath == "" {
		return nil
	}
	data, err := MarshalJSONIndent(d.value)
	if err != nil {
		return err
	}
	return AtomicWrite(d.filePath, data, d.perm)
}
