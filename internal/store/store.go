// Package store provides crash-safe persistence for the engine's three
// durable collections: positions (one per market), relations, and clusters.
// Each collection is a JSON file written via atomic replacement (write to
// .tmp, then rename) so a crash mid-write never corrupts the prior state.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"arbengine/pkg/types"
)

// Store persists positions, relations, and clusters to JSON files in a
// designated directory. All operations are mutex-protected to prevent
// concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeAtomic(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readInto(name string, v interface{}) (bool, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return true, nil
}

// SavePosition atomically persists the position for a market.
func (s *Store) SavePosition(marketID types.MarketId, pos types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic("pos_"+string(marketID)+".json", pos)
}

// LoadPosition restores the position for a market from disk. Returns
// nil, nil if no saved position exists.
func (s *Store) LoadPosition(marketID types.MarketId) (*types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos types.Position
	ok, err := s.readInto("pos_"+string(marketID)+".json", &pos)
	if err != nil || !ok {
		return nil, err
	}
	return &pos, nil
}

// SaveRelations atomically persists the full relation set, implementing
// clustercache.Persister.
func (s *Store) SaveRelations(relations []types.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic("relations.json", relations)
}

// LoadRelations restores the relation set, implementing
// clustercache.Persister. Returns nil, nil if none were ever saved.
func (s *Store) LoadRelations() ([]types.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relations []types.Relation
	ok, err := s.readInto("relations.json", &relations)
	if err != nil || !ok {
		return nil, err
	}
	return relations, nil
}

// SaveClusters atomically persists the precomputed cluster set, kept
// alongside relations so a restart can skip the union-find rebuild for
// large relation sets. Optional: the cluster cache rebuilds from relations
// alone if this is never written.
func (s *Store) SaveClusters(clusters []types.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic("clusters.json", clusters)
}

// LoadClusters restores the precomputed cluster set. Returns nil, nil if
// none were ever saved.
func (s *Store) LoadClusters() ([]types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clusters []types.Cluster
	ok, err := s.readInto("clusters.json", &clusters)
	if err != nil || !ok {
		return nil, err
	}
	return clusters, nil
}
