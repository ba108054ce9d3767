/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/taskpool/worker-manager/pkg/api"
)

const (
	// workerExpiryGrace keeps expired worker rows visible a little longer so a
	// scan pass that raced the expiry still sees a consistent row.
	workerExpiryGrace = 10 * time.Minute

	cleanupInterval = time.Hour
)

// MemoryStore is the in-memory Store used by tests and single-process
// deployments. Worker rows lapse once their expiry (plus grace) passes,
// standing in for the external reaper that deletes expired rows.
type MemoryStore struct {
	pools   *gocache.Cache
	workers *gocache.Cache

	mu   sync.Mutex
	rows map[string]*sync.Mutex // row locks, keyed like the caches
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   gocache.New(gocache.NoExpiration, cleanupInterval),
		workers: gocache.New(gocache.NoExpiration, cleanupInterval),
		rows:    map[string]*sync.Mutex{},
	}
}

func workerKey(workerPoolID, workerGroup, workerID string) string {
	return fmt.Sprintf("worker\x00%s\x00%s\x00%s", workerPoolID, workerGroup, workerID)
}

func poolKey(workerPoolID string) string {
	return "pool\x00" + workerPoolID
}

func (s *MemoryStore) rowLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[key]
	if !ok {
		l = &sync.Mutex{}
		s.rows[key] = l
	}
	return l
}

func workerTTL(w *api.Worker) time.Duration {
	if w.Expires.IsZero() {
		return gocache.NoExpiration
	}
	ttl := time.Until(w.Expires.Add(workerExpiryGrace))
	if ttl <= 0 {
		// go-cache treats non-positive durations as never-expiring. A row
		// already past its grace window must lapse on the next read instead.
		return time.Nanosecond
	}
	return ttl
}

func (s *MemoryStore) CreateWorkerPool(_ context.Context, pool *api.WorkerPool) error {
	key := poolKey(pool.WorkerPoolID)
	l := s.rowLock(key)
	l.Lock()
	defer l.Unlock()
	if _, ok := s.pools.Get(key); ok {
		return fmt.Errorf("worker pool %s: %w", pool.WorkerPoolID, ErrAlreadyExists)
	}
	s.pools.Set(key, pool.DeepCopy(), gocache.NoExpiration)
	return nil
}

func (s *MemoryStore) GetWorkerPool(_ context.Context, workerPoolID string) (*api.WorkerPool, error) {
	v, ok := s.pools.Get(poolKey(workerPoolID))
	if !ok {
		return nil, fmt.Errorf("worker pool %s: %w", workerPoolID, ErrNotFound)
	}
	return v.(*api.WorkerPool).DeepCopy(), nil
}

func (s *MemoryStore) UpdateWorkerPool(_ context.Context, workerPoolID string, mutate func(*api.WorkerPool) error) (*api.WorkerPool, error) {
	key := poolKey(workerPoolID)
	l := s.rowLock(key)
	l.Lock()
	defer l.Unlock()
	v, ok := s.pools.Get(key)
	if !ok {
		return nil, fmt.Errorf("worker pool %s: %w", workerPoolID, ErrNotFound)
	}
	cp := v.(*api.WorkerPool).DeepCopy()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	s.pools.Set(key, cp, gocache.NoExpiration)
	return cp.DeepCopy(), nil
}

func (s *MemoryStore) DeleteWorkerPool(_ context.Context, workerPoolID string) error {
	s.pools.Delete(poolKey(workerPoolID))
	return nil
}

func (s *MemoryStore) ListWorkerPools(_ context.Context) ([]*api.WorkerPool, error) {
	items := s.pools.Items()
	pools := make([]*api.WorkerPool, 0, len(items))
	for _, item := range items {
		pools = append(pools, item.Object.(*api.WorkerPool).DeepCopy())
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].WorkerPoolID < pools[j].WorkerPoolID })
	return pools, nil
}

func (s *MemoryStore) CreateWorker(_ context.Context, worker *api.Worker) error {
	key := workerKey(worker.WorkerPoolID, worker.WorkerGroup, worker.WorkerID)
	l := s.rowLock(key)
	l.Lock()
	defer l.Unlock()
	if _, ok := s.workers.Get(key); ok {
		return fmt.Errorf("worker %s: %w", worker.WorkerID, ErrAlreadyExists)
	}
	s.workers.Set(key, worker.DeepCopy(), workerTTL(worker))
	return nil
}

func (s *MemoryStore) GetWorker(_ context.Context, workerPoolID, workerGroup, workerID string) (*api.Worker, error) {
	v, ok := s.workers.Get(workerKey(workerPoolID, workerGroup, workerID))
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}
	return v.(*api.Worker).DeepCopy(), nil
}

func (s *MemoryStore) UpdateWorker(_ context.Context, workerPoolID, workerGroup, workerID string, mutate func(*api.Worker) error) (*api.Worker, error) {
	key := workerKey(workerPoolID, workerGroup, workerID)
	l := s.rowLock(key)
	l.Lock()
	defer l.Unlock()
	v, ok := s.workers.Get(key)
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}
	cp := v.(*api.Worker).DeepCopy()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	s.workers.Set(key, cp, workerTTL(cp))
	return cp.DeepCopy(), nil
}

func (s *MemoryStore) DeleteWorker(_ context.Context, workerPoolID, workerGroup, workerID string) error {
	s.workers.Delete(workerKey(workerPoolID, workerGroup, workerID))
	return nil
}

func (s *MemoryStore) ListWorkersByPool(_ context.Context, workerPoolID string) ([]*api.Worker, error) {
	prefix := fmt.Sprintf("worker\x00%s\x00", workerPoolID)
	var workers []*api.Worker
	for key, item := range s.workers.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		workers = append(workers, item.Object.(*api.Worker).DeepCopy())
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })
	return workers, nil
}
