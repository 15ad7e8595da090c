package network

import (
	"fmt"
	"net"
	"sync"
)

// Allocator hands out host ports for static page servers. Pages share
// the host network namespace, so publishing a page is binding its
// server to a free port from the configured range; the allocator
// guards against double-handing a port to two pages racing through
// upload.
type Allocator struct {
	min, max int

	mu       sync.Mutex
	reserved map[int]int64 // port → task id
}

// NewAllocator creates an allocator over the inclusive port range
func NewAllocator(min, max int) *Allocator {
	return &Allocator{
		min:      min,
		max:      max,
		reserved: make(map[int]int64),
	}
}

// Allocate reserves a free port for the task. A port counts as free
// when it is not reserved here and the host will let us bind it.
func (a *Allocator) Allocate(taskID int64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.min; port <= a.max; port++ {
		if _, taken := a.reserved[port]; taken {
			continue
		}
		if !probe(port) {
			continue
		}
		a.reserved[port] = taskID
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", a.min, a.max)
}

// Release returns the task's ports to the pool. Safe to call for tasks
// that never held one.
func (a *Allocator) Release(taskID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port, owner := range a.reserved {
		if owner == taskID {
			delete(a.reserved, port)
		}
	}
}

// PortFor returns the port reserved for a task, or 0
func (a *Allocator) PortFor(taskID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port, owner := range a.reserved {
		if owner == taskID {
			return port
		}
	}
	return 0
}

// probe checks that the host can bind the port right now
func probe(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
