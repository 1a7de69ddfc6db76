// Package pq provides the priority queues used for top-k selection and graph search.
//
// Ordering is shared by every component: a higher score is better, and equal
// scores are ordered by ascending offset so results are deterministic.
package pq

import (
	"container/heap"
	"slices"

	"github.com/hupe1980/vecseg/model"
)

// Better reports whether a ranks before b.
func Better(a, b model.ScoredOffset) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Offset < b.Offset
}

// Compare orders best first, for use with slices.SortFunc.
func Compare(a, b model.ScoredOffset) int {
	switch {
	case Better(a, b):
		return -1
	case Better(b, a):
		return 1
	default:
		return 0
	}
}

// Queue is a binary heap of scored offsets.
// With worstOnTop the root is the worst item, which is what a bounded top-k needs.
type Queue struct {
	h heapItems
}

// heapItems implements heap.Interface.
type heapItems struct {
	worstOnTop bool
	items      []model.ScoredOffset
}

func (h *heapItems) Len() int { return len(h.items) }

func (h *heapItems) Less(i, j int) bool {
	if h.worstOnTop {
		return Better(h.items[j], h.items[i])
	}
	return Better(h.items[i], h.items[j])
}

func (h *heapItems) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *heapItems) Push(x any) { h.items = append(h.items, x.(model.ScoredOffset)) }

func (h *heapItems) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}

// NewBestFirst creates a queue whose top is the best item.
func NewBestFirst(capacity int) *Queue {
	return &Queue{h: heapItems{items: make([]model.ScoredOffset, 0, capacity)}}
}

// NewWorstFirst creates a queue whose top is the worst item.
func NewWorstFirst(capacity int) *Queue {
	return &Queue{h: heapItems{worstOnTop: true, items: make([]model.ScoredOffset, 0, capacity)}}
}

// Len returns the number of items.
func (q *Queue) Len() int { return len(q.h.items) }

// Top returns the root item.
func (q *Queue) Top() (model.ScoredOffset, bool) {
	if len(q.h.items) == 0 {
		return model.ScoredOffset{}, false
	}
	return q.h.items[0], true
}

// Push inserts an item.
func (q *Queue) Push(item model.ScoredOffset) {
	heap.Push(&q.h, item)
}

// PushBounded inserts item into a worst-on-top queue holding at most capacity
// items. It reports whether the item was kept.
func (q *Queue) PushBounded(item model.ScoredOffset, capacity int) bool {
	if capacity <= 0 {
		return false
	}
	if len(q.h.items) < capacity {
		q.Push(item)
		return true
	}
	if !Better(item, q.h.items[0]) {
		return false
	}
	q.h.items[0] = item
	heap.Fix(&q.h, 0)
	return true
}

// Pop removes and returns the root item.
func (q *Queue) Pop() (model.ScoredOffset, bool) {
	if len(q.h.items) == 0 {
		return model.ScoredOffset{}, false
	}
	return heap.Pop(&q.h).(model.ScoredOffset), true
}

// Sorted returns the items best first. The queue is left unchanged.
func (q *Queue) Sorted() []model.ScoredOffset {
	out := slices.Clone(q.h.items)
	slices.SortFunc(out, Compare)
	return out
}
