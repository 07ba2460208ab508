package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"triarb/internal/model"
)

func TestBookTickerStream_Handle(t *testing.T) {
	s := NewBookTickerStream(testLogger(), "", []string{"BTCUSDT"}, 0)

	_, err := s.TopOfBook(context.Background())
	assert.True(t, IsTransport(err), "an empty stream is not ready yet")

	require.NoError(t, s.handle([]byte(`{"u":400900217,"s":"BTCUSDT","b":"60000.1","B":"3","a":"60000.2","A":"1"}`)))
	require.NoError(t, s.handle([]byte(`{"u":400900218,"s":"DOGEUSDT","b":"0.1","B":"3","a":"0.11","A":"1"}`)))
	assert.Error(t, s.handle([]byte(`not json`)))

	quotes, err := s.TopOfBook(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1, "unfiltered symbols are dropped")
	assert.Equal(t, 60000.1, quotes["BTCUSDT"].Bid)
}

func TestBookTickerStream_StartStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"s":"ETHBTC","b":"0.05","a":"0.051"}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"s":"ETHUSDT","b":"3000","a":"3001"}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewBookTickerStream(testLogger(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.StartStream(ctx) }()

	require.Eventually(t, func() bool {
		quotes, err := s.TopOfBook(context.Background())
		return err == nil && len(quotes) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestBookTickerStream_DisconnectClearsQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	drop := make(chan struct{})
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) > 1 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"s":"ETHUSDT","b":"3000","a":"3001"}`))
		<-drop
	}))
	defer srv.Close()

	s := NewBookTickerStream(testLogger(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.StartStream(ctx) }()

	require.Eventually(t, func() bool {
		quotes, err := s.TopOfBook(context.Background())
		return err == nil && len(quotes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	close(drop)
	require.Eventually(t, func() bool {
		_, err := s.TopOfBook(context.Background())
		return IsTransport(err)
	}, 2*time.Second, 10*time.Millisecond, "a dropped stream must not keep serving its last book")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestBookTickerStream_MaxAge(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewBookTickerStream(testLogger(), "", nil, 5*time.Second)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.handle([]byte(`{"s":"BTCUSDT","b":"60000","a":"60001"}`)))
	clock = clock.Add(4 * time.Second)
	require.NoError(t, s.handle([]byte(`{"s":"ETHUSDT","b":"3000","a":"3001"}`)))

	clock = clock.Add(2 * time.Second)
	quotes, err := s.TopOfBook(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, quotes, "BTCUSDT", "quotes past the max age are dropped")
	assert.Contains(t, quotes, "ETHUSDT")

	clock = clock.Add(time.Minute)
	_, err = s.TopOfBook(context.Background())
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrStaleQuotes)
}

type staticQuoter map[string]model.Quote

func (s staticQuoter) TopOfBook(context.Context) (map[string]model.Quote, error) {
	return s, nil
}

func TestStreamingClient_QuotesFromStream(t *testing.T) {
	s := NewBookTickerStream(testLogger(), "", nil, 0)
	require.NoError(t, s.handle([]byte(`{"s":"BTCUSDT","b":"1","a":"2"}`)))

	paper := NewPaperClient(testLogger(), staticQuoter{}, nil, 0.1)
	client := NewStreamingClient(paper, s)

	quotes, err := client.TopOfBook(context.Background())
	require.NoError(t, err)
	assert.Contains(t, quotes, "BTCUSDT")
	assert.Equal(t, "paper", client.GetName())
}
