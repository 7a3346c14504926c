package mixer

import "slices"

// queue holds pending segments ordered by descending priority, FIFO within
// a priority.
type queue struct {
	segs []*Segment
}

func (q *queue) Len() int { return len(q.segs) }

// push inserts seg after every queued segment of equal or higher priority.
func (q *queue) push(seg *Segment) {
	i, _ := slices.BinarySearchFunc(q.segs, seg.Priority, func(s *Segment, p int) int {
		if s.Priority >= p {
			return -1
		}
		return 1
	})
	q.segs = slices.Insert(q.segs, i, seg)
}

// pop removes and returns the next segment to play.
func (q *queue) pop() *Segment {
	seg := q.segs[0]
	q.segs[0] = nil
	q.segs = q.segs[1:]
	return seg
}

// drain removes and returns every queued segment.
func (q *queue) drain() []*Segment {
	segs := q.segs
	q.segs = nil
	return segs
}
