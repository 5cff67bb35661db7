package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"clustertest/internal/session"
	"clustertest/pkg/logging"
)

// Event kinds carried by the replicate tool.
const (
	KindRoom    = "room"
	KindJoin    = "join"
	KindMessage = "message"
)

const (
	replicationQueueSize = 256
	replicationMaxTries  = 20
)

// Event is a local write forwarded to peers.
type Event struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Origin  int             `json:"origin"`

	queuedAt time.Time
}

// NewEvent encodes payload as an event of kind.
func NewEvent(kind string, origin int, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	return Event{Kind: kind, Payload: raw, Origin: origin}, nil
}

// Replicator forwards events to every peer asynchronously. Each peer has its
// own FIFO queue, so events from one instance arrive in the order they were
// published.
type Replicator struct {
	origin int
	delay  time.Duration
	dialer session.Connector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	peers  []*peerLink
}

type peerLink struct {
	index   int
	address string
	queue   chan Event
	session session.Session
}

// NewReplicator starts one worker per peer address.
func NewReplicator(origin int, peers []string, delay time.Duration, dialer session.Connector) *Replicator {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Replicator{
		origin: origin,
		delay:  delay,
		dialer: dialer,
		ctx:    ctx,
		cancel: cancel,
	}
	for i, address := range peers {
		link := &peerLink{
			index:   i,
			address: address,
			queue:   make(chan Event, replicationQueueSize),
		}
		r.peers = append(r.peers, link)
		r.wg.Add(1)
		go r.run(link)
	}
	return r
}

// Publish queues ev for every peer.
func (r *Replicator) Publish(ev Event) {
	ev.queuedAt = time.Now()
	for _, link := range r.peers {
		select {
		case link.queue <- ev:
		case <-r.ctx.Done():
			return
		}
	}
}

// Close stops the workers and closes peer sessions. Queued events that were
// not delivered yet are dropped.
func (r *Replicator) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Replicator) run(link *peerLink) {
	defer r.wg.Done()
	defer func() {
		if link.session != nil {
			link.session.Close()
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-link.queue:
			if wait := time.Until(ev.queuedAt.Add(r.delay)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-r.ctx.Done():
					timer.Stop()
					return
				}
			}
			if err := r.deliver(link, ev); err != nil && r.ctx.Err() == nil {
				logging.Error("ChatServer", err, "Dropping %s event for peer %s", ev.Kind, link.address)
			}
		}
	}
}

// deliver sends ev to the peer, reconnecting and retrying with exponential
// backoff.
func (r *Replicator) deliver(link *peerLink, ev Event) error {
	args := map[string]interface{}{
		"kind":    ev.Kind,
		"payload": string(ev.Payload),
		"origin":  ev.Origin,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(r.ctx, func() (struct{}, error) {
		if link.session == nil {
			s, err := r.connect(link)
			if err != nil {
				return struct{}{}, err
			}
			link.session = s
		}

		_, err := link.session.CallTool(r.ctx, "replicate", args)
		if err == nil {
			return struct{}{}, nil
		}
		var toolErr *session.ToolError
		if !errors.As(err, &toolErr) {
			link.session.Close()
			link.session = nil
		}
		logging.Debug("ChatServer", "Replicating %s event to %s failed, will retry: %v", ev.Kind, link.address, err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(replicationMaxTries))
	if err != nil {
		return fmt.Errorf("replication to %s failed: %w", link.address, err)
	}
	logging.Debug("ChatServer", "Replicated %s event to %s", ev.Kind, link.address)
	return nil
}

func (r *Replicator) connect(link *peerLink) (session.Session, error) {
	host, portStr, err := net.SplitHostPort(link.address)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid peer address %q: %w", link.address, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid peer port in %q: %w", link.address, err))
	}
	return r.dialer.Connect(r.ctx, link.index, host, port)
}
