package pools

import (
	"sync"
)

// Float64SlicePool hands out float64 scratch slices of a fixed length.
// Contents of a slice returned by Get are unspecified.
type Float64SlicePool struct {
	pool sync.Pool
	size int
}

// NewFloat64SlicePool creates a new Float64SlicePool for slices of length size
func NewFloat64SlicePool(size int) *Float64SlicePool {
	return &Float64SlicePool{
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]float64, size)
				return &s
			},
		},
		size: size,
	}
}

// Size returns the slice length served by the pool
func (p *Float64SlicePool) Size() int {
	return p.size
}

// Get retrieves a float64 slice of length Size from the pool
func (p *Float64SlicePool) Get() []float64 {
	return (*p.pool.Get().(*[]float64))[:p.size]
}

// Put returns a float64 slice to the pool
func (p *Float64SlicePool) Put(f []float64) {
	if cap(f) < p.size {
		// Foreign slice, let GC handle it
		return
	}
	f = f[:p.size]
	p.pool.Put(&f)
}

// Registry keeps one pool per slice length
type Registry struct {
	mu    sync.Mutex
	pools map[int]*Float64SlicePool
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{pools: make(map[int]*Float64SlicePool)}
}

// For returns the pool serving slices of length size, creating it on first use
func (r *Registry) For(size int) *Float64SlicePool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[size]
	if !ok {
		p = NewFloat64SlicePool(size)
		r.pools[size] = p
	}
	return p
}
