// Package orchestrator owns clusters and their agents end to end:
// starting, stopping, killing, resuming, and exporting runs, and
// persisting the set of known clusters across process restarts.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// registryFilePerm makes clusters.json owner-writable and world-readable.
const registryFilePerm = 0o644

// lockRetryInterval and lockRetryAttempts bound how long registry
// persistence waits for a sibling process holding the advisory lock
// file before giving up. The pack carries no cross-process file-lock
// library (flock bindings, bbolt, etc. never surface in any example's
// go.mod); a bounded retry over a lock *file*'s O_EXCL creation is the
// standard Go idiom for this absent a C dependency.
const (
	lockRetryInterval = 25 * time.Millisecond
	lockRetryAttempts = 200 // ~5s worst case
)

// registryDocument is the on-disk shape of clusters.json.
type registryDocument struct {
	Clusters []*cluster.Cluster `json:"clusters"`
}

// registry is the in-memory, disk-backed set of known clusters for one
// storage directory. It is safe for concurrent use.
type registry struct {
	mu   sync.RWMutex
	path string

	clusters map[string]*cluster.Cluster
}

func openRegistry(path string) (*registry, error) {
	r := &registry{path: path, clusters: map[string]*cluster.Cluster{}}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return zerrors.NewStorageError("read registry", err)
	}
	if len(data) == 0 {
		return nil
	}
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return zerrors.NewStorageError("parse registry", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range doc.Clusters {
		r.clusters[c.ID] = c
	}
	return nil
}

// put inserts or replaces a cluster record and persists the registry.
func (r *registry) put(c *cluster.Cluster) error {
	r.mu.Lock()
	r.clusters[c.ID] = c
	r.mu.Unlock()
	return r.persist()
}

func (r *registry) get(id string) (*cluster.Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clusters[id]
	return c, ok
}

func (r *registry) list() []*cluster.Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*cluster.Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, c)
	}
	return out
}

// persist writes the full registry document to disk, guarded by an
// advisory lock file so two processes sharing a storage directory don't
// interleave writes. It writes to a temp file and renames into place so
// a reader never observes a partially written document.
func (r *registry) persist() error {
	unlock, err := acquireLock(r.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	r.mu.RLock()
	doc := registryDocument{Clusters: make([]*cluster.Cluster, 0, len(r.clusters))}
	for _, c := range r.clusters {
		doc.Clusters = append(doc.Clusters, c)
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return zerrors.NewStorageError("encode registry", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, registryFilePerm); err != nil {
		return zerrors.NewStorageError("write registry temp file", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return zerrors.NewStorageError("rename registry", err)
	}
	return nil
}

// acquireLock takes an advisory lock by creating lockPath exclusively,
// retrying at a fixed interval, and returns a function that releases it.
func acquireLock(lockPath string) (func(), error) {
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, zerrors.NewStorageError("acquire registry lock", err)
		}
		time.Sleep(lockRetryInterval)
	}
	return nil, zerrors.NewStorageError("acquire registry lock", fmt.Errorf("timed out waiting for %s", lockPath))
}
