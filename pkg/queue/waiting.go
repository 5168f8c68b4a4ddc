package queue

import (
	"sort"
	"time"
)

// entry is a task parked until a channel frees up.
type entry struct {
	task       any
	enqueuedAt time.Time
	priority   int
}

// waitingList holds entries in admission order. With byPriority set the
// list stays sorted by priority descending; equal priorities keep arrival
// order.
type waitingList struct {
	byPriority bool
	entries    []entry
}

func (w *waitingList) len() int { return len(w.entries) }

func (w *waitingList) push(e entry) {
	if !w.byPriority {
		w.entries = append(w.entries, e)
		return
	}
	// First position holding a strictly lower priority; inserting there
	// places e behind every equal-priority entry already queued.
	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].priority < e.priority
	})
	w.entries = append(w.entries, entry{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = e
}

func (w *waitingList) pop() (entry, bool) {
	if len(w.entries) == 0 {
		return entry{}, false
	}
	e := w.entries[0]
	w.entries[0] = entry{}
	w.entries = w.entries[1:]
	return e, true
}
