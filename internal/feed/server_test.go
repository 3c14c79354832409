package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsprite/voxsprite/internal/bus"
)

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestServer_BroadcastsSpriteEvents(t *testing.T) {
	events := bus.NewEventBus()
	s := NewServer(events, zerolog.Nop())
	defer s.Close()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts.URL)
	defer conn.Close()

	// Give the read/write loops a moment to register the client.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events.Publish(bus.Event{
		Type: bus.EventTypeSpriteChanged,
		Data: map[string]any{"sprite": "a.png", "mode": "talking", "tier": 0, "idle_index": 2},
	})

	var msg SpriteMessage
	readMessage(t, conn, &msg)
	assert.Equal(t, MessageTypeSprite, msg.Type)
	assert.Equal(t, "a.png", msg.Handle)
	assert.Equal(t, "talking", msg.Mode)
	assert.Equal(t, 0, msg.Tier)
	assert.Equal(t, 2, msg.IdleIndex)
}

func TestServer_BroadcastsLevelAndStatus(t *testing.T) {
	events := bus.NewEventBus()
	s := NewServer(events, zerolog.Nop())
	defer s.Close()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts.URL)
	defer conn.Close()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events.Publish(bus.Event{
		Type: bus.EventTypeLevelSample,
		Data: map[string]any{"level": 0.42, "thresholds": []float64{0.1, 0.3}},
	})
	events.Publish(bus.Event{
		Type: bus.EventTypeDeviceStatus,
		Data: map[string]any{"status": "retrying"},
	})

	var level LevelMessage
	readMessage(t, conn, &level)
	assert.Equal(t, MessageTypeLevel, level.Type)
	assert.InDelta(t, 0.42, level.Level, 0.0001)
	assert.Equal(t, []float64{0.1, 0.3}, level.Thresholds)

	var status StatusMessage
	readMessage(t, conn, &status)
	assert.Equal(t, MessageTypeStatus, status.Type)
	assert.Equal(t, "retrying", status.Status)
}

func TestServer_NoSpriteMarker(t *testing.T) {
	events := bus.NewEventBus()
	s := NewServer(events, zerolog.Nop())
	defer s.Close()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts.URL)
	defer conn.Close()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events.Publish(bus.Event{
		Type: bus.EventTypeSpriteChanged,
		Data: map[string]any{"sprite": "", "mode": "idle", "tier": -1, "idle_index": 0},
	})

	var msg SpriteMessage
	readMessage(t, conn, &msg)
	assert.Empty(t, msg.Handle)
	assert.Equal(t, "idle", msg.Mode)
}
