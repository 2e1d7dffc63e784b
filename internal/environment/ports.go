package environment

import (
	"fmt"
	"net"
	"sync"
)

// PortPool hands out host ports for exposed guest services. Each provider
// owns one pool, so concurrent suite runs on the same host do not race over
// a shared counter.
type PortPool struct {
	mu    sync.Mutex
	base  int
	limit int
	used  map[int]bool
}

// NewPortPool allocates ports in [base, limit).
func NewPortPool(base, limit int) *PortPool {
	return &PortPool{
		base:  base,
		limit: limit,
		used:  map[int]bool{},
	}
}

// Acquire reserves the lowest free port. A port counts as free when the pool
// has not handed it out and nothing on the host is listening on it.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.base; port < p.limit; port++ {
		if p.used[port] {
			continue
		}
		if !portFree(port) {
			continue
		}
		p.used[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("no free ports in [%d, %d)", p.base, p.limit)
}

// Release returns a port to the pool. Releasing an unknown port is a no-op.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
