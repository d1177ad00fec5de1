package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/types"
)

// Handler receives each message at most once per (entity, version).
type Handler func(Message)

// ListenerManager keeps one websocket subscription per (world, channel)
// and reconnects it with exponential backoff. When the retry ceiling is
// hit the subscription ends with ErrListenerUnavailable and is not
// retried again.
type ListenerManager struct {
	url       string
	reconnect config.ReconnectConfig
	dialer    *websocket.Dialer
	log       *log.Logger

	// sleep waits between reconnects; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	subs map[topic]*Subscription
}

func NewListenerManager(url string, rc config.ReconnectConfig, logger *log.Logger) *ListenerManager {
	if logger == nil {
		logger = log.Default()
	}
	return &ListenerManager{
		url:       url,
		reconnect: rc,
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		log:       logger,
		sleep:     sleepCtx,
		subs:      make(map[topic]*Subscription),
	}
}

type Subscription struct {
	WorldID string
	Channel Channel

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	handlers []Handler
	latest   map[entityKey]int64
	err      error
}

type entityKey struct {
	entityType string
	entityID   int64
}

// Done is closed when the subscription stops for good.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is nil after a caller-initiated stop and wraps
// ErrListenerUnavailable after the retry ceiling was exceeded.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe attaches h to the world's channel, opening the subscription
// if it is not already open. Every handler on a subscription sees the same
// deduplicated stream.
func (m *ListenerManager) Subscribe(ctx context.Context, worldID string, ch Channel, h Handler) (*Subscription, error) {
	if !ValidChannel(ch) {
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
	if worldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	t := topic{worldID: worldID, channel: ch}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[t]; ok {
		select {
		case <-s.done:
		default:
			s.mu.Lock()
			s.handlers = append(s.handlers, h)
			s.mu.Unlock()
			return s, nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		WorldID:  worldID,
		Channel:  ch,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: []Handler{h},
		latest:   make(map[entityKey]int64),
	}
	m.subs[t] = s
	go m.run(runCtx, s)
	return s, nil
}

// Unsubscribe stops the world's channel subscription and waits for it.
func (m *ListenerManager) Unsubscribe(worldID string, ch Channel) {
	t := topic{worldID: worldID, channel: ch}
	m.mu.Lock()
	s, ok := m.subs[t]
	delete(m.subs, t)
	m.mu.Unlock()
	if ok {
		s.cancel()
		<-s.done
	}
}

func (m *ListenerManager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[topic]*Subscription)
	m.mu.Unlock()
	for _, s := range subs {
		s.cancel()
		<-s.done
	}
}

func (m *ListenerManager) run(ctx context.Context, s *Subscription) {
	defer close(s.done)

	attempt := 0
	for {
		delivered, err := m.consume(ctx, s)
		if ctx.Err() != nil {
			return
		}
		// an ack alone does not count; a server that accepts and drops
		// must still run into the ceiling
		if delivered {
			attempt = 0
		}
		if attempt >= m.reconnect.MaxRetries {
			s.mu.Lock()
			s.err = fmt.Errorf("%w: %s/%s after %d retries: %v",
				types.ErrListenerUnavailable, s.WorldID, s.Channel, attempt, err)
			s.mu.Unlock()
			m.log.Printf("realtime: %v", s.err)
			return
		}
		delay := m.reconnect.Delay(attempt)
		attempt++
		m.log.Printf("realtime: %s/%s disconnected (%v), retry %d in %s", s.WorldID, s.Channel, err, attempt, delay)
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// consume dials, subscribes and dispatches messages until the connection
// fails. delivered reports whether at least one message came through.
func (m *ListenerManager) consume(ctx context.Context, s *Subscription) (delivered bool, err error) {
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(ClientAction{Action: ActionSubscribe, WorldID: s.WorldID, Channel: s.Channel}); err != nil {
		return false, err
	}

	acked := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		if !acked {
			// the first frame is the subscribe acknowledgement
			acked = true
			var ack ClientAction
			if json.Unmarshal(raw, &ack) == nil && ack.Action == "subscribed" {
				continue
			}
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			m.log.Printf("realtime: %s/%s: %v", s.WorldID, s.Channel, err)
			continue
		}
		delivered = true
		s.dispatch(msg)
	}
}

func (s *Subscription) dispatch(msg Message) {
	if msg.WorldID != s.WorldID || msg.Channel != s.Channel {
		return
	}
	s.mu.Lock()
	k := entityKey{entityType: msg.EntityType, entityID: msg.EntityID}
	if v, ok := s.latest[k]; ok && msg.Version <= v {
		s.mu.Unlock()
		return
	}
	s.latest[k] = msg.Version
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
