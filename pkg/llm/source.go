package llm

// EventSource is a lazy, finite, non-restartable sequence of backend events.
// The sse decoder and every SDK provider implement it.
//
//	for src.Next() {
//		ev := src.Event()
//	}
//	if err := src.Err(); err != nil { ... }
type EventSource interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}

// FuncSource adapts pull-style SDK iterators to EventSource. fill is called
// whenever the queue is empty; it may emit any number of events and reports
// whether more input may follow.
type FuncSource struct {
	fill   func(emit func(Event)) (more bool, err error)
	closer func() error

	queue []Event
	cur   Event
	err   error
	done  bool
}

// NewFuncSource creates a FuncSource. closer may be nil.
func NewFuncSource(fill func(emit func(Event)) (bool, error), closer func() error) *FuncSource {
	return &FuncSource{fill: fill, closer: closer}
}

// NewSliceSource replays a fixed list of events.
func NewSliceSource(events ...Event) *FuncSource {
	return NewFuncSource(func(emit func(Event)) (bool, error) {
		for _, ev := range events {
			emit(ev)
		}
		return false, nil
	}, nil)
}

func (s *FuncSource) emit(ev Event) {
	s.queue = append(s.queue, ev)
}

func (s *FuncSource) Next() bool {
	for len(s.queue) == 0 && !s.done {
		more, err := s.fill(s.emit)
		if err != nil {
			s.err = err
			s.done = true
		} else if !more {
			s.done = true
		}
	}
	if len(s.queue) == 0 {
		return false
	}
	s.cur = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

func (s *FuncSource) Event() Event { return s.cur }

func (s *FuncSource) Err() error { return s.err }

func (s *FuncSource) Close() error {
	s.done = true
	s.queue = nil
	if s.closer != nil {
		c := s.closer
		s.closer = nil
		return c()
	}
	return nil
}
