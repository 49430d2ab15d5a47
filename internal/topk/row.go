package topk

import (
	"container/heap"
	"math"
	"sort"
)

// rowSelector writes the k best entries of row into items and values,
// best first.
type rowSelector interface {
	selectRow(row []float64, k int, items []int, values []float64)
}

// better reports whether item i ranks strictly before item j. Higher
// scores come first, NaN sorts last, and equal scores fall back to the
// lower item index so that every strategy yields the same order.
func better(row []float64, i, j int) bool {
	vi, vj := row[i], row[j]
	iNaN, jNaN := math.IsNaN(vi), math.IsNaN(vj)
	switch {
	case iNaN && jNaN:
		return i < j
	case iNaN:
		return false
	case jNaN:
		return true
	case vi != vj:
		return vi > vj
	default:
		return i < j
	}
}

// partitionSelector moves the k best items to the front of an index
// buffer with quickselect, then sorts only those k.
type partitionSelector struct {
	idx []int
}

func (p *partitionSelector) selectRow(row []float64, k int, items []int, values []float64) {
	n := len(row)
	if cap(p.idx) < n {
		p.idx = make([]int, n)
	}
	idx := p.idx[:n]
	for i := range idx {
		idx[i] = i
	}

	if k < n {
		quickselect(idx, row, k-1)
	}

	best := idx[:k]
	sort.Slice(best, func(a, b int) bool { return better(row, best[a], best[b]) })

	for j, it := range best {
		items[j] = it
		values[j] = row[it]
	}
}

// quickselect reorders idx so that idx[:nth+1] holds the nth+1 best items.
func quickselect(idx []int, row []float64, nth int) {
	lo, hi := 0, len(idx)-1
	for lo < hi {
		p := partition(idx, row, lo, hi)
		switch {
		case p == nth:
			return
		case p < nth:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

func partition(idx []int, row []float64, lo, hi int) int {
	mid := lo + (hi-lo)/2

	// median of three ends up at idx[hi]
	if better(row, idx[mid], idx[lo]) {
		idx[mid], idx[lo] = idx[lo], idx[mid]
	}
	if better(row, idx[hi], idx[lo]) {
		idx[hi], idx[lo] = idx[lo], idx[hi]
	}
	if better(row, idx[hi], idx[mid]) {
		idx[hi], idx[mid] = idx[mid], idx[hi]
	}
	idx[mid], idx[hi] = idx[hi], idx[mid]

	pivot := idx[hi]
	store := lo
	for i := lo; i < hi; i++ {
		if better(row, idx[i], pivot) {
			idx[i], idx[store] = idx[store], idx[i]
			store++
		}
	}
	idx[store], idx[hi] = idx[hi], idx[store]
	return store
}

// heapSelector streams a row through a size-k heap whose root is the worst
// item kept so far.
type heapSelector struct {
	h boundedHeap
}

func (s *heapSelector) selectRow(row []float64, k int, items []int, values []float64) {
	s.h.row = row
	s.h.idx = s.h.idx[:0]

	for j := range row {
		if len(s.h.idx) < k {
			heap.Push(&s.h, j)
		} else if better(row, j, s.h.idx[0]) {
			s.h.idx[0] = j
			heap.Fix(&s.h, 0)
		}
	}

	for t := k - 1; t >= 0; t-- {
		it := heap.Pop(&s.h).(int)
		items[t] = it
		values[t] = row[it]
	}
	s.h.row = nil
}

type boundedHeap struct {
	row []float64
	idx []int
}

func (h *boundedHeap) Len() int { return len(h.idx) }

// Less orders the worst item first.
func (h *boundedHeap) Less(a, b int) bool { return better(h.row, h.idx[b], h.idx[a]) }

func (h *boundedHeap) Swap(a, b int) { h.idx[a], h.idx[b] = h.idx[b], h.idx[a] }

func (h *boundedHeap) Push(x any) { h.idx = append(h.idx, x.(int)) }

func (h *boundedHeap) Pop() any {
	n := len(h.idx)
	x := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return x
}
