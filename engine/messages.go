package engine

import (
	"errors"
	"sync"

	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/status"
)

// messageQueue holds the messages posted since the last render cycle. Its capacity
// is exactly what one cycle's message region can hold.
type messageQueue struct {
	mu      sync.Mutex
	pending [][]byte
	size    int
}

func (q *messageQueue) post(data []byte) int {
	if err := limits.ValidateMessage(data); err != nil {
		if errors.Is(err, limits.ErrMessageTooLong) {
			return int(status.MessageTooLong)
		}
		return int(status.EmptyMessage)
	}
	n := limits.PaddedMessageSize(len(data))

	q.mu.Lock()
	defer q.mu.Unlock()
	// The region starts with a 4-byte message count.
	if 4+q.size+n > limits.MessageRegionSize {
		return int(status.InsufficientMessageSpace)
	}
	q.pending = append(q.pending, append([]byte(nil), data...))
	q.size += n
	return int(status.Success)
}

// take hands the pending messages to the render cycle and empties the queue.
func (q *messageQueue) take() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.pending
	q.pending = nil
	q.size = 0
	return pending
}
