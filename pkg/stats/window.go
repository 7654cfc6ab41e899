package stats

// Window is a fixed-capacity FIFO. Appending to a full window evicts the
// oldest value.
type Window[T any] struct {
	capacity int
	values   []T
}

// NewWindow creates a window holding at most capacity values.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{capacity: capacity, values: make([]T, 0, capacity)}
}

// Push appends v, evicting from the front once capacity is exceeded.
func (w *Window[T]) Push(v T) {
	if len(w.values) == w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, v)
}

// Len is the number of values currently held.
func (w *Window[T]) Len() int { return len(w.values) }

// Cap is the configured capacity.
func (w *Window[T]) Cap() int { return w.capacity }

// Values returns a copy in arrival order.
func (w *Window[T]) Values() []T {
	out := make([]T, len(w.values))
	copy(out, w.values)
	return out
}

// Reset empties the window.
func (w *Window[T]) Reset() {
	w.values = w.values[:0]
}
