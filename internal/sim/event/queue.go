// Package event implements the sim kernel's binary min-heap event
// queue: events are (due_time, kind, payload) tuples, ordered by due
// time with ties broken by insertion order.
package event

import "container/heap"

// Kind enumerates the event kinds the sim kernel schedules.
type Kind int

const (
	KindCastComplete Kind = iota
	KindSpellLand
	KindAuraExpire
	KindAuraTick
	KindCooldownReady
	KindAutoAttack
	KindResourceTick
	KindProcICDEnd
	KindSimEnd
)

// Event is one scheduled occurrence. DueTime is integer milliseconds
// since iteration start (u32 range suffices for fights <= 49 days).
type Event struct {
	DueTime uint32
	Kind    Kind
	Payload any

	seq int // insertion sequence, for deterministic tie-breaking
}

// Queue is a min-heap keyed by (DueTime, insertion sequence).
type Queue struct {
	items   pqueue
	nextSeq int
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.items)
	return q
}

// Push schedules a new event. A handler may only push events with due
// times >= the current logical clock; callers are responsible for that
// invariant (the queue itself does not know "now").
func (q *Queue) Push(dueTime uint32, kind Kind, payload any) {
	heap.Push(&q.items, &Event{DueTime: dueTime, Kind: kind, Payload: payload, seq: q.nextSeq})
	q.nextSeq++
}

// Pop removes and returns the earliest event. ok is false if the queue
// is empty.
func (q *Queue) Pop() (Event, bool) {
	if q.items.Len() == 0 {
		return Event{}, false
	}
	e := heap.Pop(&q.items).(*Event)
	return *e, true
}

// Len reports the number of pending events.
func (q *Queue) Len() int { return q.items.Len() }

// pqueue is the container/heap.Interface implementation.
type pqueue []*Event

func (p pqueue) Len() int { return len(p) }

func (p pqueue) Less(i, j int) bool {
	if p[i].DueTime != p[j].DueTime {
		return p[i].DueTime < p[j].DueTime
	}
	return p[i].seq < p[j].seq
}

func (p pqueue) Swap(i, j int) { p[i], p[j] = p[j], p[i] }

func (p *pqueue) Push(x any) {
	*p = append(*p, x.(*Event))
}

func (p *pqueue) Pop() any {
	old := *p
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*p = old[:n-1]
	return item
}
