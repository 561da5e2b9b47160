package queue

import (
	"sync"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
type MemQueue struct {
	mu   sync.Mutex
	data []*domain.UploadJob
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data: make([]*domain.UploadJob, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(job *domain.UploadJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, job)
	return true
}

func (q *MemQueue) DequeueBatch(max int) []*domain.UploadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]*domain.UploadJob, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *MemQueue) Cap() int { return q.cap }

var _ ports.UploadQueue = (*MemQueue)(nil)
