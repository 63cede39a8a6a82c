package utils

import (
	"context"
	"sync"
	"time"
)

// WorkerPool manages a pool of goroutines with an optional minimum spacing
// between job starts.
type WorkerPool struct {
	maxWorkers  int
	minInterval time.Duration
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastStart   time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and spacing.
func NewWorkerPool(maxWorkers int, minInterval time.Duration) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		minInterval: minInterval,
		semaphore:   make(chan struct{}, maxWorkers),
	}
}

// Size returns the maximum number of concurrent jobs.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

// Submit enqueues a job for execution in the pool.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceInterval()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) enforceInterval() {
	if wp.minInterval <= 0 {
		return
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()

	elapsed := time.Since(wp.lastStart)
	if elapsed < wp.minInterval {
		time.Sleep(wp.minInterval - elapsed)
	}
	wp.lastStart = time.Now()
}

// RunChunks runs fn for every index in [0, n) in chunks of the pool size.
// Each chunk completes before the next begins and a pause separates chunks.
// It stops early, without starting another chunk, once ctx is done.
func (wp *WorkerPool) RunChunks(ctx context.Context, n int, pause time.Duration, fn func(i int)) error {
	for start := 0; start < n; start += wp.maxWorkers {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + wp.maxWorkers
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			idx := i
			wp.Submit(func() { fn(idx) })
		}
		wp.Wait()

		if end < n && pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return nil
}

// URLSet is a thread-safe set for tracking seen URLs.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains returns true if the URL has already been seen.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[url]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
