package worktree

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

var registryBucket = []byte("worktrees")

// Registry is the durable worktree metadata store (SPEC_FULL.md §4.4): a
// single bbolt file keyed by worktree id, replacing the teacher's
// one-JSON-file-per-worktree layout so registry writes are transactional
// even under concurrent janitor/create/remove activity.
type Registry struct {
	db *bolt.DB
}

// OpenRegistry opens (creating if absent) <stateDir>/worktrees.db.
func OpenRegistry(stateDir string) (*Registry, error) {
	path := filepath.Join(stateDir, "worktrees.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open worktree registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(registryBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worktree registry bucket: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Put upserts a worktree record.
func (r *Registry) Put(w *model.Worktree) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(registryBucket).Put([]byte(w.ID), data)
	})
}

// Get returns a single worktree record, or ok=false if absent.
func (r *Registry) Get(id string) (*model.Worktree, bool, error) {
	var w *model.Worktree
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(registryBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		w = &model.Worktree{}
		return json.Unmarshal(data, w)
	})
	if err != nil {
		return nil, false, err
	}
	return w, w != nil, nil
}

// Delete removes a worktree record.
func (r *Registry) Delete(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(registryBucket).Delete([]byte(id))
	})
}

// List returns every registered worktree record.
func (r *Registry) List() ([]*model.Worktree, error) {
	var out []*model.Worktree
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(registryBucket).ForEach(func(_, v []byte) error {
			w := &model.Worktree{}
			if err := json.Unmarshal(v, w); err != nil {
				return err
			}
			out = append(out, w)
			return nil
		})
	})
	return out, err
}
