package indicator

import "time"

// ring is a fixed-capacity window of floats with a running sum.
type ring struct {
	buf   []float64
	next  int
	count int
	sum   float64
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{buf: make([]float64, size)}
}

func (r *ring) push(v float64) {
	if r.count == len(r.buf) {
		r.sum -= r.buf[r.next]
	} else {
		r.count++
	}
	r.buf[r.next] = v
	r.sum += v
	r.next = (r.next + 1) % len(r.buf)
}

func (r *ring) full() bool { return r.count == len(r.buf) }

func (r *ring) mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

// maxDeque tracks the maximum of the last n pushed values.
type maxDeque struct {
	n     int
	seq   int
	items []seqValue
	head  int
}

type seqValue struct {
	seq int
	v   float64
}

func newMaxDeque(n int) *maxDeque {
	if n < 1 {
		n = 1
	}
	return &maxDeque{n: n}
}

func (d *maxDeque) push(v float64) {
	for len(d.items) > d.head && d.items[len(d.items)-1].v <= v {
		d.items = d.items[:len(d.items)-1]
	}
	d.items = append(d.items, seqValue{seq: d.seq, v: v})
	d.seq++
	for d.items[d.head].seq <= d.seq-1-d.n {
		d.head++
	}
	d.compact()
}

// max returns the window maximum and whether n values have been seen.
func (d *maxDeque) max() (float64, bool) {
	if len(d.items) == d.head {
		return 0, false
	}
	return d.items[d.head].v, d.seq >= d.n
}

func (d *maxDeque) reset() {
	d.items = d.items[:0]
	d.head = 0
	d.seq = 0
}

func (d *maxDeque) compact() {
	if d.head > 64 && d.head*2 > len(d.items) {
		d.items = append(d.items[:0], d.items[d.head:]...)
		d.head = 0
	}
}

// timeWindowSum sums values whose timestamps fall within the trailing window.
type timeWindowSum struct {
	window time.Duration
	items  []timedValue
	head   int
	sum    float64
}

type timedValue struct {
	at time.Time
	v  float64
}

func newTimeWindowSum(window time.Duration) *timeWindowSum {
	return &timeWindowSum{window: window}
}

// add appends v at time at and evicts everything at or before at-window.
func (w *timeWindowSum) add(at time.Time, v float64) {
	w.items = append(w.items, timedValue{at: at, v: v})
	w.sum += v
	cutoff := at.Add(-w.window)
	for w.head < len(w.items) && !w.items[w.head].at.After(cutoff) {
		w.sum -= w.items[w.head].v
		w.head++
	}
	if w.head == len(w.items) {
		w.sum = 0
	}
	if w.head > 64 && w.head*2 > len(w.items) {
		w.items = append(w.items[:0], w.items[w.head:]...)
		w.head = 0
	}
}

func (w *timeWindowSum) total() float64 { return w.sum }

func (w *timeWindowSum) reset() {
	w.items = w.items[:0]
	w.head = 0
	w.sum = 0
}
