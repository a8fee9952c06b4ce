package ws

import "sync"

// convQueue runs submitted jobs one at a time per conversation, in the order
// they were submitted. Different conversations drain concurrently. A
// conversation's entry exists only while its worker is running.
type convQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
}

func newConvQueue() *convQueue {
	return &convQueue{pending: make(map[string][]func())}
}

// Submit queues job behind earlier jobs of the same conversation.
func (q *convQueue) Submit(conversationID string, job func()) {
	q.mu.Lock()
	jobs, running := q.pending[conversationID]
	q.pending[conversationID] = append(jobs, job)
	q.mu.Unlock()

	if !running {
		go q.drain(conversationID)
	}
}

func (q *convQueue) drain(conversationID string) {
	for {
		q.mu.Lock()
		jobs := q.pending[conversationID]
		if len(jobs) == 0 {
			delete(q.pending, conversationID)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[conversationID] = jobs[1:]
		q.mu.Unlock()

		job()
	}
}

func (q *convQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
