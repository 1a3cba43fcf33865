// Package tail is a supplemental, read-only live-tail of newly appended
// audit records, broadcast over websocket connections as JSON. It never
// participates in append/rotate/retain/query/delete; a Broadcaster with
// no subscribers is a no-op.
package tail

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/channels"
	"github.com/gorilla/websocket"

	"github.com/Eric5553/pgaudit-collector/internal/log"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// subscriberOutboxSize bounds how far a single subscriber may lag
	// behind the fan-out goroutine before it is dropped rather than
	// stalling delivery to every other subscriber.
	subscriberOutboxSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Row is the JSON shape pushed to subscribers: the same 13-column
// layout internal/query produces for a single live record.
type Row struct {
	Time       int64      `json:"time"`
	TypeDesc   string     `json:"type"`
	ResultDesc string     `json:"result"`
	Fields     [10]string `json:"fields"`
}

func toRow(rec *record.Record) Row {
	r := Row{Time: rec.Time, TypeDesc: rec.Type.Desc(), ResultDesc: rec.Result.Desc()}
	for i := 0; i < 10; i++ {
		if rec.Fields[i] == "" {
			r.Fields[i] = "null"
		} else {
			r.Fields[i] = rec.Fields[i]
		}
	}
	return r
}

// Broadcaster fans out every live record appended by the collector to
// every currently-subscribed websocket connection. Publish is called
// synchronously on the collector's single-threaded event loop after
// every append, so it must never block on a subscriber's write: it only
// hands the record to send, an unbounded channels.InfiniteChannel, the
// same decoupling the teacher's frontend/stream package uses to keep
// Push non-blocking regardless of how slow a streaming client is.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	send *channels.InfiniteChannel
}

// NewBroadcaster constructs an empty Broadcaster and starts its
// dedicated fan-out goroutine.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subs: map[*subscriber]struct{}{},
		send: channels.NewInfiniteChannel(),
	}
	go b.fanOut()
	return b
}

type subscriber struct {
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writeLoop owns the websocket connection for writes: it drains outbox
// and sends pings, so a subscriber only ever has one writer goroutine
// touching its connection at a time.
func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case buf := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				log.Warn("tail: dropping subscriber after write error: %v", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Publish hands rec to the fan-out goroutine without blocking.
func (b *Broadcaster) Publish(rec *record.Record) {
	b.mu.RLock()
	empty := len(b.subs) == 0
	b.mu.RUnlock()
	if empty {
		return
	}
	b.send.In() <- rec
}

// fanOut is the only goroutine that marshals records and enqueues them
// onto subscriber outboxes; a subscriber whose outbox is full is
// dropped instead of backing up delivery to the rest of the catalog.
func (b *Broadcaster) fanOut() {
	for v := range b.send.Out() {
		rec, ok := v.(*record.Record)
		if !ok || rec == nil {
			continue
		}
		buf, err := json.Marshal(toRow(rec))
		if err != nil {
			log.Error("tail: marshal row: %v", err)
			continue
		}

		b.mu.RLock()
		for s := range b.subs {
			select {
			case s.outbox <- buf:
			default:
				log.Warn("tail: dropping stalled subscriber, outbox full")
				go b.drop(s)
			}
		}
		b.mu.RUnlock()
	}
}

func (b *Broadcaster) drop(s *subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.close()
}

// Handler upgrades an incoming HTTP request to a websocket connection
// and registers it as a subscriber until the client disconnects.
func (b *Broadcaster) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("tail: upgrade failed: %v", err)
		return
	}
	s := &subscriber{
		conn:   conn,
		outbox: make(chan []byte, subscriberOutboxSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	log.Info("tail: new subscriber from %s", conn.RemoteAddr())
	go s.writeLoop()
	go b.consume(s)
}

// consume reads (and discards) inbound frames only to detect connection
// closure, since this is a read-only tail; it removes the subscriber on
// exit.
func (b *Broadcaster) consume(s *subscriber) {
	defer func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warn("tail: subscriber connection closed: %v", err)
			}
			return
		}
	}
}
