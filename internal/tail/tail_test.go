package tail_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric5553/pgaudit-collector/internal/record"
	"github.com/Eric5553/pgaudit-collector/internal/tail"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	return conn
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := tail.NewBroadcaster()
	// No subscriber registered; this must not panic or block.
	b.Publish(&record.Record{Type: record.TypeLoginSuccess})
}

func TestPublishDeliversRowToSubscriber(t *testing.T) {
	b := tail.NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.Handler))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	// Give the Handler goroutine a moment to register the subscriber
	// before publishing, mirroring the teacher's stream_test pattern of
	// subscribing before the first push.
	time.Sleep(50 * time.Millisecond)

	rec := &record.Record{Type: record.TypeLoginSuccess, Result: record.ResultOK}
	rec.Fields[record.FieldDetail] = "alice"
	b.Publish(rec)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, buf, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Contains(t, string(buf), "alice")
	assert.Contains(t, string(buf), "ok")
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	b := tail.NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.Handler))
	defer srv.Close()

	conn := dial(t, srv)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	// Give the server-side consume loop time to notice the closure and
	// drop the subscriber; Publish afterward must still be a no-op, not
	// a write error storm.
	time.Sleep(50 * time.Millisecond)
	b.Publish(&record.Record{Type: record.TypeLoginSuccess})
}
