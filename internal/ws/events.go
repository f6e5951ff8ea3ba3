package ws

import (
	"encoding/json"
	"fmt"

	"github.com/pliu/nowchat/internal/channel"
)

// Inbound event types.
const (
	EventListUsers    = "list-users"
	EventFetchHistory = "fetch-history"
	EventSendMessage  = "send-message"
	EventJoinRoom     = "join-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventCandidate    = "candidate"
)

// Outbound event types.
const (
	EventUsersResult   = "users-result"
	EventHistoryResult = "history-result"
	EventMessageAck    = "message-ack"
	EventRoomPeers     = "room-peers"
	EventRoomFull      = "room-full"
	EventPeerOffer     = "peer-offer"
	EventPeerAnswer    = "peer-answer"
	EventPeerCandidate = "peer-candidate"
	EventPeerLeft      = "peer-left"
)

// Envelope is an inbound frame. The Message/UserFrom/UserTo fields carry the
// flat format spoken by older web clients and are folded into Type/Payload
// by decodeEnvelope.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Message  string `json:"message,omitempty"`
	UserFrom string `json:"userFrom,omitempty"`
	UserTo   string `json:"userTo,omitempty"`
}

type SendMessagePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type JoinRoomPayload struct {
	Room string `json:"room"`
}

// SignalPayload carries an opaque WebRTC session description or ICE
// candidate.
type SignalPayload struct {
	SDP  json.RawMessage `json:"sdp,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ResultEvent answers list-users and fetch-history and carries fanout
// history.
type ResultEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
	Items   any    `json:"items"`
}

type AckEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type RoomPeersEvent struct {
	Type  string   `json:"type"`
	Room  string   `json:"room"`
	Peers []ConnID `json:"peers"`
}

type RoomFullEvent struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type SignalEvent struct {
	Type string          `json:"type"`
	From ConnID          `json:"from"`
	SDP  json.RawMessage `json:"sdp,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PeerLeftEvent struct {
	Type         string `json:"type"`
	ConnectionID ConnID `json:"connectionId"`
}

var relayTypes = map[string]string{
	EventOffer:     EventPeerOffer,
	EventAnswer:    EventPeerAnswer,
	EventCandidate: EventPeerCandidate,
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "GET":
		switch env.Message {
		case "Users":
			env.Type = EventListUsers
		case "Chat":
			env.Type = EventFetchHistory
		}
	case "SEND Message":
		payload, err := json.Marshal(SendMessagePayload{From: env.UserFrom, To: env.UserTo, Body: env.Message})
		if err != nil {
			return Envelope{}, fmt.Errorf("encode legacy payload: %w", err)
		}
		env.Type = EventSendMessage
		env.Payload = payload
	}
	return env, nil
}

// decodePayload unmarshals p into dest. An absent payload leaves dest as is.
func decodePayload(p json.RawMessage, dest any) error {
	if len(p) == 0 || string(p) == "null" {
		return nil
	}
	if err := json.Unmarshal(p, dest); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// pairFromPayload reads the optional {peerA, peerB} of fetch-history.
func pairFromPayload(p json.RawMessage) (channel.Pair, error) {
	var pair channel.Pair
	err := decodePayload(p, &pair)
	return pair, err
}
