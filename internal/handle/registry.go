// Package handle implements the opaque handle table that backs every
// session object crossing the bridge boundary.
//
// A Handle packs a slot index, the slot's generation and the registry kind
// into one integer. Destroying a handle bumps the slot generation, so a
// stale copy of the old handle no longer resolves even after the slot is
// reused. Registries created with distinct kinds reject each other's
// handles.
package handle

import (
	"fmt"
	"sync"

	"github.com/example/go-onnx-bridge/internal/status"
)

// Handle is an opaque, caller-owned reference. Zero is the null handle.
type Handle uint64

// Null is the handle returned when no resource was created.
const Null Handle = 0

// genMask keeps the generation below the kind byte.
const genMask = 1<<24 - 1

func pack(index, gen uint32, kind uint8) Handle {
	return Handle(uint64(kind)<<56 | uint64(gen&genMask)<<32 | uint64(index+1))
}

func (h Handle) unpack() (index, gen uint32, kind uint8, ok bool) {
	low := uint32(uint64(h) & 0xffffffff)
	if low == 0 {
		return 0, 0, 0, false
	}

	return low - 1, uint32(uint64(h)>>32) & genMask, uint8(uint64(h) >> 56), true
}

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool { return h == Null }

func (h Handle) String() string {
	index, gen, kind, ok := h.unpack()
	if !ok {
		return "handle(null)"
	}

	if kind != 0 {
		return fmt.Sprintf("handle(%d:%d@%d)", kind, index, gen)
	}

	return fmt.Sprintf("handle(%d@%d)", index, gen)
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Registry maps handles to values of type T. It is safe for concurrent use;
// the values it stores are not synchronized by the registry.
type Registry[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
	limit int
	kind  uint8
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	limit int
	kind  uint8
}

// WithLimit caps the number of live handles. Create fails with
// status.ErrOutOfMemory once the cap is reached. Zero means unlimited.
func WithLimit(n int) Option {
	return func(o *registryOptions) { o.limit = n }
}

// WithKind stamps every handle of the registry with kind. Handles of a
// different kind fail lookup with status.ErrInvalidHandle.
func WithKind(kind uint8) Option {
	return func(o *registryOptions) { o.kind = kind }
}

// New returns an empty registry.
func New[T any](opts ...Option) *Registry[T] {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry[T]{limit: o.limit, kind: o.kind}
}

// Create stores v and returns a fresh handle for it.
func (r *Registry[T]) Create(v T) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && r.live >= r.limit {
		return Null, fmt.Errorf("handle table full (%d live): %w", r.live, status.ErrOutOfMemory)
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if uint64(len(r.slots)) >= 0xffffffff {
			return Null, fmt.Errorf("handle table exhausted: %w", status.ErrOutOfMemory)
		}

		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{gen: 1})
	}

	s := &r.slots[index]
	s.live = true
	s.val = v
	r.live++

	return pack(index, s.gen, r.kind), nil
}

// Get resolves h. Null, stale and foreign handles fail with
// status.ErrInvalidHandle.
func (r *Registry[T]) Get(h Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}

	return s.val, nil
}

// Destroy invalidates h and returns the value it referenced. Destroying the
// null handle is a no-op. Destroying a stale handle (including a second
// destroy of the same handle) fails with status.ErrInvalidHandle and leaves
// the table untouched.
func (r *Registry[T]) Destroy(h Handle) (T, error) {
	var zero T
	if h.IsNull() {
		return zero, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return zero, err
	}

	v := s.val
	s.val = zero
	s.live = false
	s.gen = (s.gen + 1) & genMask
	if s.gen == 0 {
		s.gen = 1
	}

	index, _, _, _ := h.unpack()
	r.free = append(r.free, index)
	r.live--

	return v, nil
}

// Len returns the number of live handles.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.live
}

// Snapshot returns the live handles and their values at the time of the call.
func (r *Registry[T]) Snapshot() map[Handle]T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Handle]T, r.live)
	for i := range r.slots {
		s := &r.slots[i]
		if s.live {
			out[pack(uint32(i), s.gen, r.kind)] = s.val
		}
	}

	return out
}

func (r *Registry[T]) lookup(h Handle) (*slot[T], error) {
	index, gen, kind, ok := h.unpack()
	if !ok {
		return nil, fmt.Errorf("null handle: %w", status.ErrInvalidHandle)
	}

	if kind != r.kind {
		return nil, fmt.Errorf("%s belongs to another table: %w", h, status.ErrInvalidHandle)
	}

	if int(index) >= len(r.slots) {
		return nil, fmt.Errorf("%s out of range: %w", h, status.ErrInvalidHandle)
	}

	s := &r.slots[index]
	if !s.live || s.gen != gen {
		return nil, fmt.Errorf("%s is stale: %w", h, status.ErrInvalidHandle)
	}

	return s, nil
}
