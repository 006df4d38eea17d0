package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T, subs chan<- subscribeMsg, frames []string) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientStreamsBars(t *testing.T) {
	subs := make(chan subscribeMsg, 1)
	url := newFeedServer(t, subs, []string{
		`not json`,
		`{"type":"status","msg":"hello"}`,
		`{"type":"bar","data":[{"s":"005930","t":1709510400000,"o":70000,"h":70100,"l":69900,"c":70050,"v":1200,"es":1.2},{"s":"000660","t":1709510400000,"c":150000,"v":10}]}`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New("secret", url, 10*time.Millisecond, 0)
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx, []string{"005930", "000660"}))

	sub := <-subs
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, []string{"005930", "000660"}, sub.Instruments)

	bars, errs := c.Read(ctx)
	first := <-bars
	assert.Equal(t, "005930", first.InstrumentID)
	assert.Equal(t, int64(1709510400), first.Timestamp.Unix())
	s, ok := first.Strength()
	assert.True(t, ok)
	assert.Equal(t, 1.2, s)

	second := <-bars
	assert.Equal(t, "000660", second.InstrumentID)
	_, ok = second.Strength()
	assert.False(t, ok)

	// server hangs up after its frames
	err := <-errs
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
	require.NoError(t, c.Close())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New("", "ws://127.0.0.1:1", time.Millisecond, 0)
	assert.ErrorIs(t, c.Subscribe(context.Background(), []string{"005930"}), errNotConnected)

	bars, errs := c.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
	_, open := <-bars
	assert.False(t, open)
}
