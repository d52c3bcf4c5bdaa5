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

	"GateKeeper/internal/domain/models"
)

func feedServer(t *testing.T, subs chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub.Symbol

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteJSON(frame{Type: "snapshot", Data: []models.CycleInput{
			{Snapshot: models.FeatureSnapshot{Symbol: "BTCUSDT", Price: 100}},
			{Snapshot: models.FeatureSnapshot{Symbol: "BTCUSDT", Price: 101}, UserRequested: true},
		}})
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
}

func TestWSClientStreamsSnapshots(t *testing.T) {
	subs := make(chan string, 1)
	srv := feedServer(t, subs)
	defer srv.Close()

	c := NewWSClient(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Symbols: []string{"BTCUSDT"}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "BTCUSDT", <-subs)

	out, _ := c.Read(ctx)
	first := <-out
	second := <-out
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 100.0, first.Snapshot.Price)
	assert.True(t, second.UserRequested)

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestWSClientReadWithoutConnect(t *testing.T) {
	c := NewWSClient(Config{URL: "ws://127.0.0.1:1"}, nil)
	out, errs := c.Read(context.Background())

	assert.Error(t, <-errs)
	_, open := <-out
	assert.False(t, open)
}
