package reconcile

import "sync"

type task struct {
	run  func() error
	done chan error
}

// actor runs tasks for one device in submission order.
type actor struct {
	mu      sync.Mutex
	queue   []task
	closing bool
	wake    chan struct{}
	stopped chan struct{}
}

func newActor() *actor {
	a := &actor{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *actor) push(t task) bool {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, t)
	a.mu.Unlock()
	a.signal()
	return true
}

func (a *actor) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// close stops accepting tasks. The loop exits once the queue is drained.
func (a *actor) close() {
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()
	a.signal()
}

func (a *actor) depth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

func (a *actor) loop() {
	defer close(a.stopped)
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			closing := a.closing
			a.mu.Unlock()
			if closing {
				return
			}
			<-a.wake
			continue
		}
		next := a.queue[0]
		a.queue[0] = task{}
		a.queue = a.queue[1:]
		a.mu.Unlock()

		err := next.run()
		if next.done != nil {
			next.done <- err
		}
	}
}
