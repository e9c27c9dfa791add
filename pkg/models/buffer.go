package models

import "sort"

// Buffer stages points per metric under a process-local sequence number.
// Sequence numbers only give points a stable slot while buffered; they are
// never persisted.
type Buffer map[string]map[int]Point

// NewBuffer creates an empty staging buffer
func NewBuffer() Buffer {
	return make(Buffer)
}

// Add stores p under its metric at slot seq
func (b Buffer) Add(seq int, p Point) {
	sub, ok := b[p.Metric]
	if !ok {
		sub = make(map[int]Point)
		b[p.Metric] = sub
	}
	sub[seq] = p
}

// Len returns the number of buffered points across all metrics
func (b Buffer) Len() int {
	n := 0
	for _, sub := range b {
		n += len(sub)
	}
	return n
}

// Metrics returns the buffered metric names
func (b Buffer) Metrics() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ordered returns the points of one metric in sequence order, which is the
// order they were written in.
func (b Buffer) Ordered(metric string) []Point {
	sub := b[metric]
	seqs := make([]int, 0, len(sub))
	for seq := range sub {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	points := make([]Point, len(seqs))
	for i, seq := range seqs {
		points[i] = sub[seq]
	}
	return points
}
