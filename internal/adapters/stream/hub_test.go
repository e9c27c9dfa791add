package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/instrument/pkg/models"
)

func testBatch() models.Buffer {
	buf := models.NewBuffer()
	buf.Add(0, models.Point{ExperimentID: models.IntID(3), Metric: "loss", Frame: 0, Data: 0.5})
	buf.Add(1, models.Point{ExperimentID: models.IntID(3), Metric: "accuracy", Frame: 0, Data: 1})
	buf.Add(2, models.Point{ExperimentID: models.IntID(3), Metric: "loss", Frame: 1, Data: 0.25})
	return buf
}

func TestEvents(t *testing.T) {
	events := Events(testBatch())
	require.Len(t, events, 3)

	assert.Equal(t, Event{ExperimentID: "3", Metric: "accuracy", Frame: 0, Data: int64(1)}, events[0])
	assert.Equal(t, "loss", events[1].Metric)
	assert.Equal(t, int64(0), events[1].Frame)
	assert.Equal(t, int64(1), events[2].Frame)
}

func TestHub_StreamsFlushedBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Hook()(testBatch())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var events []Event
	require.NoError(t, json.Unmarshal(message, &events))
	require.Len(t, events, 3)
	assert.Equal(t, "3", events[0].ExperimentID)
	assert.Equal(t, 0.5, events[1].Data)
}

func TestHub_HookWithoutClients(t *testing.T) {
	hub := NewHub()
	hub.Hook()(testBatch())
	assert.Empty(t, hub.broadcast, "nothing should be queued without clients")
}
