// Package datastore is a small JSON-file key/value store with periodic
// auto-save. It backs local, single-instance data (command history, guild
// preferences) that does not belong in the shared redis/postgres stores.
package datastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const autoSaveInterval = 10 * time.Second

// DataStore holds the data in memory and flushes it to one JSON file.
type DataStore struct {
	mu           sync.RWMutex
	data         map[string]any
	file         string
	lastChecksum string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens (or creates) the store at filePath and starts the auto-save loop.
func New(filePath string) (*DataStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create datastore directory: %w", err)
	}

	ds := &DataStore{
		data: make(map[string]any),
		file: filePath,
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := ds.loadFromFile(); err != nil {
			return nil, fmt.Errorf("load datastore: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat datastore file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds.cancel = cancel
	ds.wg.Add(1)
	go ds.autoSave(ctx)

	return ds, nil
}

// Get returns the value stored under key.
func (ds *DataStore) Get(key string) (any, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	v, ok := ds.data[key]
	return v, ok
}

// Add stores a key-value pair.
func (ds *DataStore) Add(key string, value any) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.data[key] = value
}

// Delete removes a key.
func (ds *DataStore) Delete(key string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.data, key)
}

// Keys returns all stored keys.
func (ds *DataStore) Keys() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	keys := make([]string, 0, len(ds.data))
	for k := range ds.data {
		keys = append(keys, k)
	}
	return keys
}

// Close stops the auto-save loop and flushes once more.
func (ds *DataStore) Close() error {
	ds.cancel()
	ds.wg.Wait()
	return ds.save()
}

func (ds *DataStore) autoSave(ctx context.Context) {
	defer ds.wg.Done()
	ticker := time.NewTicker(autoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ds.save(); err != nil {
				log.Printf("[ERR] [datastore] Auto-save failed: %v", err)
			}
		}
	}
}

func (ds *DataStore) save() error {
	ds.mu.RLock()
	payload, err := json.MarshalIndent(ds.data, "", "  ")
	ds.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal datastore: %w", err)
	}

	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])
	ds.mu.Lock()
	unchanged := checksum == ds.lastChecksum
	if !unchanged {
		ds.lastChecksum = checksum
	}
	ds.mu.Unlock()
	if unchanged {
		return nil
	}

	return ds.writeFileAtomic(payload)
}

// writeFileAtomic writes via a temp file + rename so a crash mid-write never
// corrupts the store.
func (ds *DataStore) writeFileAtomic(payload []byte) error {
	tmp := ds.file + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write temp datastore file: %w", err)
	}
	if err := os.Rename(tmp, ds.file); err != nil {
		return fmt.Errorf("replace datastore file: %w", err)
	}
	return nil
}

func (ds *DataStore) loadFromFile() error {
	raw, err := os.ReadFile(ds.file)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return json.Unmarshal(raw, &ds.data)
}
