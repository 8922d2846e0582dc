package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codavoice/coda/internal/observe"
)

const (
	// DefaultReplayCapacity is how many high-priority events the replay
	// buffer retains for late joiners.
	DefaultReplayCapacity = 50

	// observerQueueSize bounds each observer's delivery queue. A full queue
	// drops its oldest event so a slow observer never stalls the producer.
	observerQueueSize = 64

	// submitQueueSize bounds the shared submission queue feeding the
	// dispatcher.
	submitQueueSize = 1024
)

// submission is one event handed to the dispatcher. Sequence numbers and
// timestamps are assigned by the dispatcher so the total order is decided in
// exactly one place.
type submission struct {
	eventType string
	data      map[string]any
	priority  Priority
}

// attachReq registers a new subscription with the dispatcher and receives the
// current replay buffer back.
type attachReq struct {
	sub   *Subscription
	reply chan []Envelope
}

// Subscription is one observer's view of the event stream. Events delivers
// envelopes in sequence order; the replay snapshot captured at attach time is
// available via Replay.
type Subscription struct {
	events chan Envelope
	replay []Envelope

	bus       *Bus
	closeOnce sync.Once
}

// Events returns the live event channel. It is closed when the subscription
// or the bus shuts down.
func (s *Subscription) Events() <-chan Envelope { return s.events }

// Replay returns the high-priority events that were broadcast before this
// subscription attached, in submission order.
func (s *Subscription) Replay() []Envelope { return s.replay }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		select {
		case s.bus.detachCh <- s:
		case <-s.bus.done:
		}
	})
}

// Option is a functional option for New.
type Option func(*Bus)

// WithReplayCapacity overrides the replay buffer size.
func WithReplayCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.replayCap = n
		}
	}
}

// WithLogger overrides the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.log = l
	}
}

// WithMetrics attaches metric instruments for dropped-event accounting.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// Bus is the process-wide event bus. Producers on any goroutine call Submit
// (or the typed helpers in events.go); a single dispatcher goroutine assigns
// sequence numbers, maintains the replay buffer, and fans out to observer
// queues. All exported methods are safe for concurrent use.
type Bus struct {
	submitCh chan submission
	attachCh chan attachReq
	detachCh chan *Subscription

	replayCap int
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates and starts a Bus. The dispatcher goroutine runs until Stop.
func New(opts ...Option) *Bus {
	b := &Bus{
		submitCh:  make(chan submission, submitQueueSize),
		attachCh:  make(chan attachReq),
		detachCh:  make(chan *Subscription),
		replayCap: DefaultReplayCapacity,
		log:       slog.Default(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Submit hands an event to the dispatcher. It never blocks on observers; it
// returns immediately once the event is queued. After Stop the event is
// silently discarded.
func (b *Bus) Submit(eventType string, data map[string]any, priority Priority) {
	select {
	case <-b.done:
	case b.submitCh <- submission{eventType: eventType, data: data, priority: priority}:
	}
}

// Subscribe attaches a new observer and returns its subscription together
// with the replay snapshot captured at attach time. After Stop the returned
// subscription has a closed event channel and an empty replay.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		events: make(chan Envelope, observerQueueSize),
		bus:    b,
	}
	req := attachReq{sub: sub, reply: make(chan []Envelope, 1)}
	select {
	case b.attachCh <- req:
		sub.replay = <-req.reply
	case <-b.done:
		close(sub.events)
	}
	return sub
}

// Stop shuts the dispatcher down. Events already queued are delivered before
// observer channels close. Safe to call more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// dispatch is the single goroutine that owns the sequence counter, the replay
// buffer, and the observer set.
func (b *Bus) dispatch() {
	defer b.wg.Done()

	var (
		seq       uint64
		replay    []Envelope
		observers = make(map[*Subscription]struct{})
	)

	deliver := func(sub submission) {
		seq++
		env := Envelope{
			Version:   ProtocolVersion,
			Seq:       seq,
			Timestamp: timestampSeconds(b.now()),
			Type:      sub.eventType,
			Data:      sub.data,
		}
		if sub.priority == High {
			replay = append(replay, env)
			if len(replay) > b.replayCap {
				replay = replay[len(replay)-b.replayCap:]
			}
		}
		for obs := range observers {
			select {
			case obs.events <- env:
			default:
				// Queue full: drop the oldest so the newest always lands.
				select {
				case <-obs.events:
					if b.metrics != nil {
						b.metrics.DroppedEvents.Add(context.Background(), 1)
					}
					b.log.Warn("dropped event from slow observer queue", "type", env.Type, "seq", env.Seq)
				default:
				}
				select {
				case obs.events <- env:
				default:
				}
			}
		}
	}

	for {
		select {
		case sub := <-b.submitCh:
			deliver(sub)
		case req := <-b.attachCh:
			observers[req.sub] = struct{}{}
			snapshot := make([]Envelope, len(replay))
			copy(snapshot, replay)
			req.reply <- snapshot
		case sub := <-b.detachCh:
			if _, ok := observers[sub]; ok {
				delete(observers, sub)
				close(sub.events)
			}
		case <-b.done:
			// Drain whatever was queued before the stop, then release all
			// observers.
			for {
				select {
				case sub := <-b.submitCh:
					deliver(sub)
				default:
					for obs := range observers {
						close(obs.events)
					}
					return
				}
			}
		}
	}
}
