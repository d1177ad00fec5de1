package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

type topic struct {
	worldID string
	channel Channel
}

// Client is one websocket subscriber. Only the broadcaster's Run loop
// touches topics; only writePump writes to conn.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[topic]bool
}

type subRequest struct {
	client *Client
	topic  topic
	on     bool
}

// Broadcaster fans committed deltas out to websocket subscribers.
// Publish never blocks: a full queue drops the batch, and a client that
// cannot keep up is disconnected and expected to resubscribe.
type Broadcaster struct {
	log *log.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	subscribe  chan subRequest
	publish    chan []Message
	done       chan struct{}

	clientBuffer int

	mu  sync.Mutex // guards seq and ordering of sends on publish
	seq map[topic]uint64
}

func NewBroadcaster(publishBuffer, clientBuffer int, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	if publishBuffer <= 0 {
		publishBuffer = 1024
	}
	if clientBuffer <= 0 {
		clientBuffer = 64
	}
	return &Broadcaster{
		log:          logger,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		subscribe:    make(chan subRequest),
		publish:      make(chan []Message, publishBuffer),
		done:         make(chan struct{}),
		clientBuffer: clientBuffer,
		seq:          make(map[topic]uint64),
	}
}

// Publish stamps per-channel sequence numbers on msgs in call order and
// queues them for delivery. It reports whether the batch was queued.
func (b *Broadcaster) Publish(worldID string, msgs []Message) bool {
	if len(msgs) == 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := make([]Message, len(msgs))
	next := make(map[topic]uint64)
	for i, m := range msgs {
		m.WorldID = worldID
		t := topic{worldID: worldID, channel: m.Channel}
		if _, ok := next[t]; !ok {
			next[t] = b.seq[t]
		}
		next[t]++
		m.Seq = next[t]
		batch[i] = m
	}

	select {
	case b.publish <- batch:
		for t, s := range next {
			b.seq[t] = s
		}
		return true
	default:
		b.log.Printf("realtime: publish queue full, dropped %d messages for world %s", len(msgs), worldID)
		return false
	}
}

func (b *Broadcaster) Run(ctx context.Context) {
	defer func() {
		close(b.done)
		for c := range b.clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-b.register:
			b.clients[c] = true

		case c := <-b.unregister:
			b.drop(c)

		case req := <-b.subscribe:
			if !b.clients[req.client] {
				continue
			}
			if req.on {
				req.client.topics[req.topic] = true
			} else {
				delete(req.client.topics, req.topic)
			}
			action := "subscribed"
			if !req.on {
				action = "unsubscribed"
			}
			ack, _ := json.Marshal(map[string]string{
				"action":   action,
				"world_id": req.topic.worldID,
				"channel":  string(req.topic.channel),
			})
			b.deliver(req.client, ack)

		case batch := <-b.publish:
			for _, m := range batch {
				data, err := json.Marshal(m)
				if err != nil {
					b.log.Println("realtime: marshal error:", err)
					continue
				}
				t := topic{worldID: m.WorldID, channel: m.Channel}
				for c := range b.clients {
					if c.topics[t] {
						b.deliver(c, data)
					}
				}
			}
		}
	}
}

// deliver hands data to a client's writer without waiting on it.
func (b *Broadcaster) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		b.log.Printf("realtime: client %s too slow, disconnecting", c.conn.RemoteAddr())
		b.drop(c)
	}
}

func (b *Broadcaster) drop(c *Client) {
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and reads subscribe/unsubscribe actions
// until the connection closes.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Println("WS upgrade error:", err)
		return
	}
	c := &Client{
		conn:   conn,
		send:   make(chan []byte, b.clientBuffer),
		topics: make(map[topic]bool),
	}
	select {
	case b.register <- c:
	case <-b.done:
		conn.Close()
		return
	}
	go c.writePump()

	defer func() {
		select {
		case b.unregister <- c:
		case <-b.done:
		}
		conn.Close()
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var action ClientAction
		if err := json.Unmarshal(raw, &action); err != nil {
			b.log.Println("JSON parse error:", err)
			continue
		}
		if action.WorldID == "" || !ValidChannel(action.Channel) {
			continue
		}
		req := subRequest{client: c, topic: topic{worldID: action.WorldID, channel: action.Channel}}
		switch action.Action {
		case ActionSubscribe:
			req.on = true
		case ActionUnsubscribe:
		default:
			continue
		}
		select {
		case b.subscribe <- req:
		case <-b.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
