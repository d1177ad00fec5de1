package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/types"
)

func startBroadcaster(t *testing.T) (*Broadcaster, string) {
	t.Helper()
	b := NewBroadcaster(16, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func unitMsg(ch Channel, id, version int64) Message {
	return Message{
		Channel:    ch,
		EntityType: "unit",
		EntityID:   id,
		Version:    version,
		Payload:    json.RawMessage(`{"id":1}`),
	}
}

func TestBroadcasterDeliversSubscribedChannelsInOrder(t *testing.T) {
	b, url := startBroadcaster(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientAction{Action: ActionSubscribe, WorldID: "w1", Channel: ChannelMovement}))
	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["action"])

	require.True(t, b.Publish("w1", []Message{
		unitMsg(ChannelMovement, 1, 2),
		unitMsg(ChannelCombat, 1, 2),
		unitMsg(ChannelMovement, 2, 5),
	}))
	require.True(t, b.Publish("w2", []Message{unitMsg(ChannelMovement, 9, 2)}))
	require.True(t, b.Publish("w1", []Message{unitMsg(ChannelMovement, 1, 3)}))

	var got []Message
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		m, err := DecodeMessage(raw)
		require.NoError(t, err)
		got = append(got, m)
	}
	for i, m := range got {
		assert.Equal(t, "w1", m.WorldID)
		assert.Equal(t, ChannelMovement, m.Channel)
		assert.Equal(t, uint64(i+1), m.Seq)
	}
	assert.Equal(t, []int64{1, 2, 1}, []int64{got[0].EntityID, got[1].EntityID, got[2].EntityID})
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(1, 1, nil) // Run is never started

	done := make(chan bool, 2)
	go func() {
		done <- b.Publish("w1", []Message{unitMsg(ChannelResources, 1, 1)})
		done <- b.Publish("w1", []Message{unitMsg(ChannelResources, 1, 2)})
	}()
	select {
	case first := <-done:
		assert.True(t, first)
		assert.False(t, <-done)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestSubscriptionDeduplicatesByVersion(t *testing.T) {
	s := &Subscription{WorldID: "w1", Channel: ChannelResources, latest: make(map[entityKey]int64)}
	var seen []int64
	s.handlers = []Handler{func(m Message) { seen = append(seen, m.Version) }}

	for _, v := range []int64{1, 1, 2, 1, 3, 3} {
		s.dispatch(Message{WorldID: "w1", Channel: ChannelResources, EntityType: "player", EntityID: 7, Version: v})
	}
	// another entity with the same version is not a duplicate
	s.dispatch(Message{WorldID: "w1", Channel: ChannelResources, EntityType: "player", EntityID: 8, Version: 1})

	assert.Equal(t, []int64{1, 2, 3, 1}, seen)
}

func TestListenerGivesUpAfterRetryCeiling(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	m := NewListenerManager(url, config.ReconnectConfig{MaxRetries: 3, RetryDelayMs: 10, BackoffMultiplier: 2}, nil)
	var mu sync.Mutex
	var delays []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	s, err := m.Subscribe(context.Background(), "w1", ChannelCombat, func(Message) {})
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription never gave up")
	}
	assert.True(t, errors.Is(s.Err(), types.ErrListenerUnavailable))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, delays)
}

func TestListenerGivesUpOnServerThatDropsAfterAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var action ClientAction
		if err := conn.ReadJSON(&action); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]string{"action": "subscribed", "world_id": action.WorldID, "channel": string(action.Channel)})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewListenerManager(url, config.ReconnectConfig{MaxRetries: 3, RetryDelayMs: 1, BackoffMultiplier: 1}, nil)
	var mu sync.Mutex
	sleeps := 0
	m.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps++
		mu.Unlock()
		return nil
	}

	s, err := m.Subscribe(context.Background(), "w1", ChannelMovement, func(Message) {})
	require.NoError(t, err)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription kept retrying a server that never delivers")
	}
	assert.True(t, errors.Is(s.Err(), types.ErrListenerUnavailable))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, sleeps)
}

func TestListenerReceivesFromBroadcaster(t *testing.T) {
	b, url := startBroadcaster(t)
	m := NewListenerManager(url, config.ReconnectConfig{MaxRetries: 2, RetryDelayMs: 10, BackoffMultiplier: 1}, nil)
	defer m.Close()

	var mu sync.Mutex
	var got []Message
	s, err := m.Subscribe(context.Background(), "w1", ChannelClaims, func(msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)

	again, err := m.Subscribe(context.Background(), "w1", ChannelClaims, func(Message) {})
	require.NoError(t, err)
	assert.Same(t, s, again)

	// keep publishing the same version until the subscription is live;
	// duplicates must collapse to one delivery
	require.Eventually(t, func() bool {
		b.Publish("w1", []Message{{Channel: ChannelClaims, EntityType: "base", EntityID: 4, Version: 2, Payload: json.RawMessage(`{}`)}})
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()

	m.Unsubscribe("w1", ChannelClaims)
	assert.NoError(t, s.Err())
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"channel":"weather","world_id":"w1","seq":1,"entity_type":"unit","entity_id":1,"version":1,"payload":{}}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`{"channel":"combat","world_id":"w1","seq":1,"entity_type":"unit","entity_id":1,"version":0,"payload":{}}`))
	assert.Error(t, err)
	m, err := DecodeMessage([]byte(`{"channel":"combat","world_id":"w1","seq":1,"entity_type":"unit","entity_id":1,"version":1,"payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, ChannelCombat, m.Channel)
}
