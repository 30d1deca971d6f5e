package easyrand

import (
	"context"
	"sync"
	"time"

	"github.com/dedis/raffle"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

const (
	defaultQueueSize  = 16
	defaultDeliveries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// Oracle answers randomness requests asynchronously: RequestRandomness only
// queues the request, Run serves the queue and calls the registered
// consumer with one beacon round per request.
type Oracle struct {
	sync.Mutex
	beacon     *Beacon
	delay      time.Duration
	deliveries int
	retryDelay time.Duration
	requests   chan uint64
	next       uint64
	cancelled  map[uint64]bool
	consumer   Consumer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewOracle creates an oracle backed by a new beacon.
func NewOracle(cfg Config) (*Oracle, error) {
	b, err := NewBeacon(cfg.Nodes, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	return NewOracleWithBeacon(b, cfg), nil
}

// NewOracleWithBeacon uses an existing beacon; Nodes and Threshold of cfg
// are ignored.
func NewOracleWithBeacon(b *Beacon, cfg Config) *Oracle {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	deliveries := cfg.Deliveries
	if deliveries <= 0 {
		deliveries = defaultDeliveries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Oracle{
		beacon:     b,
		delay:      cfg.Delay,
		deliveries: deliveries,
		retryDelay: retryDelay,
		requests:   make(chan uint64, size),
		cancelled:  make(map[uint64]bool),
		closed:     make(chan struct{}),
	}
}

// Register sets the consumer of every future fulfillment.
func (o *Oracle) Register(c Consumer) {
	o.Lock()
	o.consumer = c
	o.Unlock()
}

func (o *Oracle) Beacon() *Beacon {
	return o.beacon
}

// RequestRandomness queues a new request and returns its id. Ids start at 1.
func (o *Oracle) RequestRandomness() (uint64, error) {
	o.Lock()
	o.next++
	id := o.next
	o.Unlock()
	if err := o.enqueue(id); err != nil {
		return 0, err
	}
	log.Lvlf3("Randomness request %d queued", id)
	return id, nil
}

// Resume queues a request issued before a restart. Later requests get
// larger ids.
func (o *Oracle) Resume(id uint64) error {
	if id == 0 {
		return xerrors.New("cannot resume request 0")
	}
	o.Lock()
	if id > o.next {
		o.next = id
	}
	o.Unlock()
	log.Lvlf2("Resuming randomness request %d", id)
	return o.enqueue(id)
}

// CancelRequest drops a queued request; no round is signed for it.
func (o *Oracle) CancelRequest(id uint64) {
	o.Lock()
	o.cancelled[id] = true
	o.Unlock()
	log.Lvlf2("Randomness request %d cancelled", id)
}

func (o *Oracle) takeCancelled(id uint64) bool {
	o.Lock()
	defer o.Unlock()
	if !o.cancelled[id] {
		return false
	}
	delete(o.cancelled, id)
	return true
}

func (o *Oracle) enqueue(id uint64) error {
	select {
	case <-o.closed:
		return xerrors.New("oracle is closed")
	default:
	}
	select {
	case o.requests <- id:
		return nil
	default:
		return xerrors.Errorf("request %d: %w", id, ErrQueueFull)
	}
}

// Run serves requests until ctx is done or the oracle is closed. A failed
// delivery is retried with the same round, up to Config.Deliveries times,
// unless the consumer no longer knows the request.
func (o *Oracle) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.closed:
			return nil
		case id := <-o.requests:
			if err := o.serve(ctx, id); err != nil {
				log.Errorf("Randomness request %d: %v", id, err)
			}
		}
	}
}

// Close stops Run.
func (o *Oracle) Close() {
	o.closeOnce.Do(func() {
		close(o.closed)
	})
}

func (o *Oracle) serve(ctx context.Context, id uint64) error {
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-o.closed:
			return xerrors.New("oracle closed")
		}
	}
	if o.takeCancelled(id) {
		log.Lvlf2("Skipping cancelled request %d", id)
		return nil
	}
	r, err := o.beacon.Next(id)
	if err != nil {
		return err
	}
	if err := VerifyRequest(o.beacon.Public(), id, r); err != nil {
		return err
	}
	o.Lock()
	c := o.consumer
	o.Unlock()
	if c == nil {
		return xerrors.New("no consumer registered")
	}
	log.Lvlf2("Fulfilling request %d with beacon round %d", id, r.Round)
	for attempt := 1; ; attempt++ {
		err = c.FulfillRandomness(id, r)
		if err == nil || attempt >= o.deliveries || final(err) {
			return err
		}
		log.Warnf("Delivery %d of request %d failed: %v", attempt, id, err)
		select {
		case <-time.After(o.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-o.closed:
			return xerrors.New("oracle closed")
		}
	}
}

// final tells whether delivering the same round again cannot help.
func final(err error) bool {
	return xerrors.Is(err, raffle.ErrUnknownRequest) ||
		xerrors.Is(err, raffle.ErrPayoutFailed) ||
		xerrors.Is(err, ErrWrongRequest)
}
