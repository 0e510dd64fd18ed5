package room

import "sync"

// fanoutEvent is one room-domain event queued for delivery to member
// sessions.
type fanoutEvent struct {
	kind    string
	payload map[string]any
}

// fanoutLane is the single-writer per-room delivery queue: events arising
// from the Room Engine are appended here and drained by one worker that
// fans out to member sessions, preserving causal order within the room
// (an amendment's acceptance is never observed before the amendment
// itself) while letting rooms progress independently of one another.
type fanoutLane struct {
	mu        sync.Mutex
	broadcast func(fanoutEvent)

	queue   chan fanoutEvent
	stopped chan struct{}
	once    sync.Once
}

func newFanoutLane() *fanoutLane {
	l := &fanoutLane{
		queue:   make(chan fanoutEvent, 1024),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// SetBroadcaster wires the delivery function once the Engine has resolved
// this room's member sessions; safe to call before or after events are
// already queued (events queued before the broadcaster is set simply wait
// in the channel).
func (l *fanoutLane) SetBroadcaster(fn func(fanoutEvent)) {
	l.mu.Lock()
	l.broadcast = fn
	l.mu.Unlock()
}

func (l *fanoutLane) Enqueue(ev fanoutEvent) {
	select {
	case l.queue <- ev:
	case <-l.stopped:
	}
}

func (l *fanoutLane) run() {
	for {
		select {
		case ev := <-l.queue:
			l.mu.Lock()
			fn := l.broadcast
			l.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-l.stopped:
			for {
				select {
				case ev := <-l.queue:
					l.mu.Lock()
					fn := l.broadcast
					l.mu.Unlock()
					if fn != nil {
						fn(ev)
					}
				default:
					return
				}
			}
		}
	}
}

// Stop makes the worker deliver the events still queued and then exit;
// used on graceful shutdown after in-flight persistence writes complete.
func (l *fanoutLane) Stop() {
	l.once.Do(func() { close(l.stopped) })
}
