package smoother

// ring is a fixed-capacity buffer of the most recent raw samples.
type ring struct {
	buf     []Sample
	head    int // next write position
	size    int
	present int // number of present samples currently held
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

// push appends s, evicting the oldest sample when full.
func (r *ring) push(s Sample) {
	if r.size == len(r.buf) {
		if r.buf[r.head].Present {
			r.present--
		}
	} else {
		r.size++
	}
	r.buf[r.head] = s
	if s.Present {
		r.present++
	}
	r.head = (r.head + 1) % len(r.buf)
}

// empty reports whether no raw transform is inside the window.
func (r *ring) empty() bool { return r.present == 0 }

func (r *ring) reset() {
	for i := range r.buf {
		r.buf[i] = Sample{}
	}
	r.head, r.size, r.present = 0, 0, 0
}
