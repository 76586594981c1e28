package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"callboard/internal/metrics"
	"callboard/internal/store"
	"callboard/pkg/ctxkeys"
	"callboard/pkg/logging"
	"callboard/pkg/models"
)

var (
	// ErrHubClosed is returned once the Run loop has exited.
	ErrHubClosed = errors.New("hub closed")
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("announcement not found")
)

// NotFoundError reports an acknowledge for an id outside the window.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("announcement %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Publish sources, used as a metrics label.
const (
	SourceAPI   = "api"
	SourceKafka = "kafka"
	SourceTest  = "test"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// Config tunes a Hub. Zero values pick the defaults.
type Config struct {
	Capacity           int
	BacklogLimit       int // 0 sends the whole backlog
	HistoryLimit       int
	BroadcastProcessed bool
	BufferSize         int
}

// DefaultHistoryLimit is how many records a history request returns.
const DefaultHistoryLimit = 10

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = store.DefaultCapacity
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BacklogLimit < 0 {
		c.BacklogLimit = 0
	}
	return c
}

// Receipt is the outcome of a publish.
type Receipt struct {
	Announcement models.Announcement
	// Subscribers is the number of subscribers registered after delivery.
	Subscribers int
}

// Stats is a snapshot of hub state.
type Stats struct {
	Total       int
	Pending     int
	Capacity    int
	Subscribers int
	Latest      *models.Announcement
}

// Subscription is one registered display. Events is closed when the
// subscription ends for any reason.
type Subscription struct {
	id     string
	hub    *Hub
	events chan Event
	once   sync.Once
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Events delivers queued events in order.
func (s *Subscription) Events() <-chan Event { return s.events }

// Cancel unregisters the subscription. Safe to call more than once and after
// the hub has stopped.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

type publishRequest struct {
	source    string
	requestID string
	payload   models.Payload
	reply     chan Receipt
}

type ackRequest struct {
	id    int64
	reply chan error
}

type historyRequest struct {
	sub   *Subscription
	reply chan bool
}

type registration struct {
	sub   *Subscription
	reply chan struct{}
}

type query struct {
	fn    func(*store.Store)
	reply chan struct{}
}

// Hub is the single owner of the announcement store and the subscriber set.
// All reads and writes are executed by the Run loop, so an insert and its
// fan-out are atomic to every observer.
type Hub struct {
	cfg     Config
	store   *store.Store
	logger  logging.Logger
	metrics *metrics.Metrics

	subscribers map[*Subscription]struct{}

	register    chan registration
	unregister  chan *Subscription
	publish     chan publishRequest
	acknowledge chan ackRequest
	history     chan historyRequest
	queries     chan query

	done    chan struct{}
	running sync.Once
}

// New creates a hub. Call Run to start serving requests.
func New(cfg Config, logger logging.Logger, m *metrics.Metrics, opts ...store.Option) *Hub {
	cfg = cfg.withDefaults()
	return &Hub{
		cfg:         cfg,
		store:       store.New(cfg.Capacity, opts...),
		logger:      logger,
		metrics:     m,
		subscribers: make(map[*Subscription]struct{}),
		register:    make(chan registration),
		unregister:  make(chan *Subscription),
		publish:     make(chan publishRequest),
		acknowledge: make(chan ackRequest),
		history:     make(chan historyRequest),
		queries:     make(chan query),
		done:        make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (h *Hub) Config() Config { return h.cfg }

// Run is the hub's main loop. It returns when ctx is done, after closing every
// subscription. Run must only be called once.
func (h *Hub) Run(ctx context.Context) error {
	started := false
	h.running.Do(func() { started = true })
	if !started {
		return errors.New("hub already running")
	}
	defer h.shutdown()

	h.logger.WithFields(logging.Fields{
		"capacity":            h.cfg.Capacity,
		"backlog_limit":       h.cfg.BacklogLimit,
		"broadcast_processed": h.cfg.BroadcastProcessed,
	}).Info("Hub started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case reg := <-h.register:
			h.addSubscriber(reg.sub)
			close(reg.reply)

		case sub := <-h.unregister:
			if h.removeSubscriber(sub) {
				h.logger.WithFields(logging.Fields{
					"subscription_id": sub.id,
					"client_count":    len(h.subscribers),
				}).Info("Subscriber disconnected")
			}

		case req := <-h.publish:
			req.reply <- h.handlePublish(req)

		case req := <-h.acknowledge:
			req.reply <- h.handleAcknowledge(req.id)

		case req := <-h.history:
			req.reply <- h.handleHistory(req.sub)

		case q := <-h.queries:
			q.fn(h.store)
			close(q.reply)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for sub := range h.subscribers {
		h.removeSubscriber(sub)
	}
	h.logger.Info("Hub stopped")
}

func (h *Hub) addSubscriber(sub *Subscription) {
	h.subscribers[sub] = struct{}{}
	h.metrics.SetSubscribers(len(h.subscribers))

	backlog := h.store.ListUnprocessed()
	if h.cfg.BacklogLimit > 0 && len(backlog) > h.cfg.BacklogLimit {
		backlog = backlog[:h.cfg.BacklogLimit]
	}

	h.logger.WithFields(logging.Fields{
		"subscription_id": sub.id,
		"client_count":    len(h.subscribers),
		"backlog":         len(backlog),
	}).Info("Subscriber connected")

	if !h.push(sub, PendingBacklog{Announcements: backlog}) {
		return
	}
	h.push(sub, ConnectionStatus{
		Connected:    true,
		Timestamp:    h.store.Now().UTC(),
		TotalClients: len(h.subscribers),
	})
}

// removeSubscriber reports whether sub was still registered.
func (h *Hub) removeSubscriber(sub *Subscription) bool {
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	delete(h.subscribers, sub)
	close(sub.events)
	h.metrics.SetSubscribers(len(h.subscribers))
	return true
}

// push queues ev without blocking. A subscriber whose buffer is full is
// dropped.
func (h *Hub) push(sub *Subscription, ev Event) bool {
	select {
	case sub.events <- ev:
		h.metrics.EventPushed(ev.EventType())
		return true
	default:
		h.removeSubscriber(sub)
		h.metrics.SubscriberDropped("slow_consumer")
		h.logger.WithFields(logging.Fields{
			"subscription_id": sub.id,
			"event_type":      ev.EventType(),
		}).Warn("Subscriber buffer full, dropping subscriber")
		return false
	}
}

func (h *Hub) broadcast(ev Event) {
	for sub := range h.subscribers {
		h.push(sub, ev)
	}
}

func (h *Hub) handlePublish(req publishRequest) Receipt {
	a := h.store.Insert(req.payload)
	h.broadcast(NewAnnouncement{Announcement: a})
	h.metrics.Published(req.source, "accepted")

	log := h.logger.WithFields(logging.Fields{
		"announcement_id": a.ID,
		"source":          req.source,
		"location":        a.Payload.Location,
		"subscribers":     len(h.subscribers),
	})
	if req.requestID != "" {
		log = log.WithField("request_id", req.requestID)
	}
	log.Info("Announcement published")

	return Receipt{Announcement: a, Subscribers: len(h.subscribers)}
}

func (h *Hub) handleAcknowledge(id int64) error {
	changed, found := h.store.MarkProcessedChanged(id)
	if !found {
		return &NotFoundError{ID: id}
	}
	if changed {
		h.logger.WithField("announcement_id", id).Info("Announcement processed")
		if h.cfg.BroadcastProcessed {
			h.broadcast(Processed{ID: id})
		}
	}
	return nil
}

func (h *Hub) handleHistory(sub *Subscription) bool {
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	all := h.store.ListAll()
	if len(all) > h.cfg.HistoryLimit {
		all = all[:h.cfg.HistoryLimit]
	}
	return h.push(sub, History{Announcements: all})
}

// send hands v to the loop, giving up when the hub stops or ctx is done.
func send[T any](ctx context.Context, h *Hub, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new subscriber. Its first events are PendingBacklog
// and ConnectionStatus, queued in the same loop step as the registration.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := &Subscription{
		id:     uuid.NewString(),
		hub:    h,
		events: make(chan Event, h.cfg.BufferSize),
	}
	reg := registration{sub: sub, reply: make(chan struct{})}
	if err := send(ctx, h, h.register, reg); err != nil {
		return nil, err
	}
	<-reg.reply
	return sub, nil
}

// Publish stores p and queues it to every current subscriber before
// returning.
func (h *Hub) Publish(ctx context.Context, p models.Payload) (models.Announcement, error) {
	r, err := h.Submit(ctx, SourceAPI, p)
	return r.Announcement, err
}

// Submit is Publish with a source label and the subscriber count.
func (h *Hub) Submit(ctx context.Context, source string, p models.Payload) (Receipt, error) {
	req := publishRequest{
		source:    source,
		requestID: ctxkeys.RequestID(ctx),
		payload:   p,
		reply:     make(chan Receipt, 1),
	}
	if err := send(ctx, h, h.publish, req); err != nil {
		h.metrics.Published(source, "rejected")
		return Receipt{}, err
	}
	return <-req.reply, nil
}

// Acknowledge marks id processed. Unknown ids return a *NotFoundError.
// Acknowledging twice is not an error.
func (h *Hub) Acknowledge(ctx context.Context, id int64) error {
	req := ackRequest{id: id, reply: make(chan error, 1)}
	if err := send(ctx, h, h.acknowledge, req); err != nil {
		return err
	}
	return <-req.reply
}

// History queues the most recent announcements to sub only.
func (h *Hub) History(ctx context.Context, sub *Subscription) error {
	req := historyRequest{sub: sub, reply: make(chan bool, 1)}
	if err := send(ctx, h, h.history, req); err != nil {
		return err
	}
	<-req.reply
	return nil
}

func (h *Hub) read(ctx context.Context, fn func(*store.Store)) error {
	q := query{fn: fn, reply: make(chan struct{})}
	if err := send(ctx, h, h.queries, q); err != nil {
		return err
	}
	<-q.reply
	return nil
}

// ListAll returns the window newest-first.
func (h *Hub) ListAll(ctx context.Context) ([]models.Announcement, error) {
	var out []models.Announcement
	err := h.read(ctx, func(s *store.Store) { out = s.ListAll() })
	return out, err
}

// ListUnprocessed returns pending announcements newest-first.
func (h *Hub) ListUnprocessed(ctx context.Context) ([]models.Announcement, error) {
	var out []models.Announcement
	err := h.read(ctx, func(s *store.Store) { out = s.ListUnprocessed() })
	return out, err
}

// Stats reports counts and the latest announcement.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := h.read(ctx, func(s *store.Store) {
		st = Stats{
			Total:       s.Len(),
			Pending:     len(s.ListUnprocessed()),
			Capacity:    s.Capacity(),
			Subscribers: len(h.subscribers),
		}
		if latest, ok := s.Latest(); ok {
			st.Latest = &latest
		}
	})
	return st, err
}

// Ping round-trips through the loop. It backs the health check.
func (h *Hub) Ping(ctx context.Context) error {
	return h.read(ctx, func(*store.Store) {})
}
