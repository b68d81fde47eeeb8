package debounce

// Ring is a fixed-capacity FIFO. Pushing onto a full ring overwrites the
// oldest element.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing allocates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v and reports whether the oldest element was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return true
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th element, 0 being the oldest.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("debounce: ring index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// First returns the oldest element.
func (r *Ring[T]) First() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.At(0), true
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.At(r.size - 1), true
}

// PopFront drops the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// Items copies the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}
