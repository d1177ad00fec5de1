package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Channel string

const (
	ChannelResources Channel = "resources"
	ChannelMovement  Channel = "movement"
	ChannelCombat    Channel = "combat"
	ChannelClaims    Channel = "claims"
)

var Channels = []Channel{ChannelResources, ChannelMovement, ChannelCombat, ChannelClaims}

func ValidChannel(c Channel) bool {
	for _, v := range Channels {
		if v == c {
			return true
		}
	}
	return false
}

// Message is one committed entity snapshot. Receivers key it by
// (EntityType, EntityID, Version) and treat it as a full replacement,
// never as a patch.
type Message struct {
	Channel     Channel         `json:"channel"`
	WorldID     string          `json:"world_id"`
	Seq         uint64          `json:"seq"`
	EntityType  string          `json:"entity_type"`
	EntityID    int64           `json:"entity_id"`
	Version     int64           `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Key identifies a message for deduplication.
type Key struct {
	EntityType string
	EntityID   int64
	Version    int64
}

func (m Message) Key() Key {
	return Key{EntityType: m.EntityType, EntityID: m.EntityID, Version: m.Version}
}

// ClientAction is what a websocket client sends to the broadcaster.
type ClientAction struct {
	Action  string  `json:"action"`
	WorldID string  `json:"world_id"`
	Channel Channel `json:"channel"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const messageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["channel", "world_id", "seq", "entity_type", "entity_id", "version", "payload"],
  "properties": {
    "channel": {"enum": ["resources", "movement", "combat", "claims"]},
    "world_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "entity_type": {"type": "string", "minLength": 1},
    "entity_id": {"type": "integer"},
    "version": {"type": "integer", "minimum": 1},
    "payload": {"type": "object"},
    "committed_at": {"type": "string"}
  }
}`

var messageValidator = jsonschema.MustCompileString("rtsworld://message.json", messageSchema)

// DecodeMessage validates raw against the message schema before decoding,
// so a malformed frame never reaches a handler.
func DecodeMessage(raw []byte) (Message, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := messageValidator.Validate(v); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
