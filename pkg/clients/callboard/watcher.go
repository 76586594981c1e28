package callboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/gorilla/websocket"

	api "callboard/pkg/api/callboard"
	"callboard/pkg/clients"
	"callboard/pkg/models"
)

// ErrWatcherClosed is returned by sends on a closed watcher.
var ErrWatcherClosed = errors.New("watcher closed")

// Event is one decoded server push. Which fields are set depends on Type.
type Event struct {
	Type      string
	Timestamp time.Time

	// new-announcement
	Announcement *models.Announcement
	// pending-backlog, history
	Announcements []models.Announcement
	// processed
	ProcessedID int64
	// connection-status
	Status *api.ConnectionStatusData
}

// DecodeEvent parses one envelope. Unknown types are returned with only Type
// and Timestamp set.
func DecodeEvent(raw []byte) (Event, error) {
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev := Event{Type: env.Type, Timestamp: env.Timestamp}

	var err error
	switch env.Type {
	case api.TypeNewAnnouncement:
		var a models.Announcement
		if err = json.Unmarshal(env.Data, &a); err == nil {
			ev.Announcement = &a
		}
	case api.TypePendingBacklog, api.TypeHistory:
		list := []models.Announcement{}
		if err = json.Unmarshal(env.Data, &list); err == nil {
			ev.Announcements = list
		}
	case api.TypeProcessed:
		var p api.ProcessedData
		if err = json.Unmarshal(env.Data, &p); err == nil {
			ev.ProcessedID = p.ID
		}
	case api.TypeConnectionStatus:
		var st api.ConnectionStatusData
		if err = json.Unmarshal(env.Data, &st); err == nil {
			ev.Status = &st
		}
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s data: %w", env.Type, err)
	}
	return ev, nil
}

// DialOptions controls connection retries. The zero value dials once.
type DialOptions struct {
	// MaxRetries < 0 retries until ctx is done.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Header     http.Header
}

// Watcher is a display subscriber on the push channel.
type Watcher struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial connects to wsURL and starts reading. The first event is always the
// pending backlog.
func Dial(ctx context.Context, wsURL string, opts DialOptions) (*Watcher, error) {
	dial := func() (*websocket.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, opts.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return conn, err
	}

	var conn *websocket.Conn
	var err error
	if opts.MaxRetries == 0 {
		conn, err = dial()
	} else {
		policy := clients.NewReconnectPolicy[*websocket.Conn](opts.BaseDelay, opts.MaxDelay, opts.MaxRetries)
		conn, err = failsafe.With(policy).WithContext(ctx).Get(dial)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	w := &Watcher{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// Events is closed when the connection ends; Err then reports why.
func (w *Watcher) Events() <-chan Event { return w.events }

// Err returns the error that ended the read loop, nil for a clean close.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watcher) readLoop() {
	defer close(w.events)
	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				w.setErr(err)
			}
			return
		}
		ev, err := DecodeEvent(raw)
		if err != nil {
			continue
		}
		select {
		case w.events <- ev:
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Acknowledge marks id processed on the server.
func (w *Watcher) Acknowledge(id int64) error {
	return w.send(api.ClientMessage{Action: api.ActionAcknowledge, ID: &id})
}

// RequestHistory asks for the most recent announcements.
func (w *Watcher) RequestHistory() error {
	return w.send(api.ClientMessage{Action: api.ActionHistory})
}

func (w *Watcher) send(msg api.ClientMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := w.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrWatcherClosed
		}
		return err
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}
