package ipalloc

import (
	"errors"
	"sync"
)

// ErrExhausted is returned by Acquire when no addresses are left in the pool.
var ErrExhausted = errors.New("no IP addresses available")

// Queue is a thread-safe FIFO of free tunnel addresses. Addresses released
// back go to the tail, so recently freed addresses are reused last.
type Queue struct {
	mu   sync.Mutex
	free []string
}

// New builds a queue preloaded with the given free addresses, in order.
func New(ips []string) *Queue {
	q := &Queue{free: make([]string, len(ips))}
	copy(q.free, ips)
	return q
}

// Acquire pops the next free address. It fails with ErrExhausted when the
// pool is empty, leaving the queue untouched.
func (q *Queue) Acquire() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.free) == 0 {
		return "", ErrExhausted
	}
	ip := q.free[0]
	q.free = q.free[1:]
	return ip, nil
}

// Release puts an address back into the pool.
func (q *Queue) Release(ip string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.free = append(q.free, ip)
}

// Available returns the number of free addresses.
func (q *Queue) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.free)
}
