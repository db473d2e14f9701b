package telemetry

import (
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

// alertQueueSize bounds how many undelivered events back up before the
// oldest are overwritten.
const alertQueueSize uint32 = 64

// dispatcher fans events out to subscribers from its own goroutine, so a
// slow listener can never stall the poll loop that produced the event.
// Overflow overwrites the oldest undelivered events.
type dispatcher[T any] struct {
	log  *logrus.Entry
	buf  mpmc.RichOverlappedRingBuffer[T]
	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	mu        sync.Mutex
	listeners map[int]func(T)
	nextID    int

	closeOnce sync.Once
}

func newDispatcher[T any](log *logrus.Entry) *dispatcher[T] {
	d := &dispatcher[T]{
		log:       log,
		buf:       mpmc.NewOverlappedRingBuffer[T](alertQueueSize),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[int]func(T)),
	}
	go d.run()
	return d
}

// publish queues an event for delivery. Never blocks.
func (d *dispatcher[T]) publish(event T) {
	overwrites, err := d.buf.EnqueueM(event)
	if err != nil {
		d.log.WithError(err).Warn("Dropping event, queue rejected it")
		return
	}
	if overwrites > 0 {
		d.log.WithField("dropped", overwrites).Warn("Event queue overflowed, oldest dropped")
	}
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *dispatcher[T]) subscribe(fn func(T)) gatt.Unsubscribe {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher[T]) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.kick:
			d.drain()
		}
	}
}

func (d *dispatcher[T]) drain() {
	for !d.buf.IsEmpty() {
		event, err := d.buf.Dequeue()
		if err != nil {
			return
		}
		d.mu.Lock()
		fns := make([]func(T), 0, len(d.listeners))
		for _, fn := range d.listeners {
			fns = append(fns, fn)
		}
		d.mu.Unlock()
		for _, fn := range fns {
			fn(event)
		}
	}
}

// close stops delivery and waits for the dispatch goroutine to exit.
// Undelivered events are discarded.
func (d *dispatcher[T]) close() {
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.done
	})
}
