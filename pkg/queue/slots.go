package queue

// slots tracks channel occupancy. It is the only gate for starting a
// handler; callers must hold the queue mutex.
type slots struct {
	concurrency int
	active      int
	paused      bool
}

func (s *slots) canAdmit() bool {
	return !s.paused && s.active < s.concurrency
}

func (s *slots) acquire() {
	s.active++
}

// release frees one channel and reports whether the queue is now idle.
func (s *slots) release() bool {
	if s.active > 0 {
		s.active--
	}
	return s.active == 0
}

// free returns the number of channels a resume may fill.
func (s *slots) free() int {
	return max(0, s.concurrency-s.active)
}
