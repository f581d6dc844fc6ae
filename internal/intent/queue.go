package intent

// Queue holds pending labels in insertion order with set semantics.
// Not safe for concurrent use; a turn owns its queue under the actor lock.
type Queue struct {
	items []Label
}

// NewQueue returns a queue seeded with labels (duplicates and invalid labels dropped).
func NewQueue(labels ...Label) *Queue {
	q := &Queue{}
	for _, l := range labels {
		q.Push(l)
	}
	return q
}

// Push appends l unless it is already queued or invalid. Reports whether it was added.
func (q *Queue) Push(l Label) bool {
	if !l.Valid() || q.Contains(l) {
		return false
	}
	q.items = append(q.items, l)
	return true
}

// Remove deletes l. Reports whether it was present.
func (q *Queue) Remove(l Label) bool {
	for i, it := range q.items {
		if it == l {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) Contains(l Label) bool {
	for _, it := range q.items {
		if it == l {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Empty() bool { return len(q.items) == 0 }

// Labels returns a copy in insertion order.
func (q *Queue) Labels() []Label {
	out := make([]Label, len(q.items))
	copy(out, q.items)
	return out
}

// Highest returns the queued label with the lowest rank.
func (q *Queue) Highest() (Label, bool) {
	if len(q.items) == 0 {
		return Unknown, false
	}
	best := q.items[0]
	for _, it := range q.items[1:] {
		if it.Rank() < best.Rank() {
			best = it
		}
	}
	return best, true
}

// Clear discards every pending label.
func (q *Queue) Clear() { q.items = nil }

// Strings renders the queue as wire names.
func (q *Queue) Strings() []string {
	out := make([]string, len(q.items))
	for i, it := range q.items {
		out[i] = it.String()
	}
	return out
}
