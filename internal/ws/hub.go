// Package ws routes chat and signaling events between WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pliu/nowchat/internal/channel"
	"github.com/pliu/nowchat/internal/models"
	"github.com/pliu/nowchat/internal/store/cachestore"
)

const (
	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 64 << 10
	DefaultRatePerSecond  = 10
	DefaultRateBurst      = 20
)

// ChatStore is the cache-aside store as seen by the hub.
type ChatStore interface {
	Users(ctx context.Context) ([]models.User, cachestore.Source, error)
	History(ctx context.Context, a, b string) ([]models.Message, cachestore.Source, error)
	SendMessage(ctx context.Context, m *models.Message) (cachestore.WriteResult, error)
}

// Config tunes per-connection limits.
type Config struct {
	SendBuffer     int
	MaxMessageSize int64
	RatePerSecond  float64
	RateBurst      int
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	return c
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	Bound       int `json:"bound"`
	Rooms       int `json:"rooms"`
}

type Hub struct {
	store    ChatStore
	registry *Registry
	rooms    *Rooms
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// mu orders admissions against shutdown: once closing is set no new
	// client is registered and wg.Add is never called again.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(store ChatStore, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		store:    store,
		registry: NewRegistry(),
		rooms:    NewRooms(),
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	allowed, allowAll := normalizeOrigins(cfg.AllowedOrigins, logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, allowed, allowAll, logger)
		},
	}
	return h
}

// Register adds c to the registry unbound.
func (h *Hub) Register(c *Client) ConnID {
	id := h.registry.Register(c)
	h.logger.Info("client registered", "conn", id, "addr", c.addr, "clients", h.registry.Len())
	return id
}

// admit registers c, binds it when pair is valid and starts its pumps. It
// reports false once the hub has begun shutting down.
func (h *Hub) admit(c *Client, pair channel.Pair) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing || h.ctx.Err() != nil {
		return false
	}
	h.Register(c)
	if pair.Valid() {
		h.Bind(c, pair)
	}
	h.start(c)
	return true
}

// Bind attaches c to the chat channel of pair.
func (h *Hub) Bind(c *Client, pair channel.Pair) bool {
	if !h.registry.Bind(c.id, pair) {
		return false
	}
	h.logger.Debug("client bound", "conn", c.id, "channel", pair.Key())
	return true
}

// Unregister removes c from the registry and its room, tells the remaining
// room peer, and closes c's outbound queue. It is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.registry.Unregister(c.id)
	if dep, ok := h.rooms.Leave(c.id); ok {
		h.notifyDeparture(c.id, dep)
	}
	if c.close() {
		h.logger.Info("client unregistered", "conn", c.id, "addr", c.addr, "clients", h.registry.Len())
	}
}

// Dispatch handles one inbound frame from c.
func (h *Hub) Dispatch(ctx context.Context, c *Client, raw []byte) {
	if c.isClosed() {
		return
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		h.logger.Warn("invalid frame", "conn", c.id, "error", err)
		return
	}

	switch env.Type {
	case EventListUsers:
		h.handleListUsers(ctx, c)
	case EventFetchHistory:
		h.handleFetchHistory(ctx, c, env.Payload)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, env.Payload)
	case EventJoinRoom:
		h.handleJoinRoom(c, env.Payload)
	case EventOffer, EventAnswer, EventCandidate:
		h.handleSignal(c, env.Type, env.Payload)
	default:
		h.logger.Warn("unknown event", "conn", c.id, "event", env.Type)
	}
}

func (h *Hub) handleListUsers(ctx context.Context, c *Client) {
	users, src, err := h.store.Users(ctx)
	if err != nil {
		h.logger.Error("list users", "conn", c.id, "error", err)
		h.reply(c, ResultEvent{Type: EventUsersResult, Message: "Users could not be retrieved"})
		return
	}
	h.reply(c, ResultEvent{
		Type:    EventUsersResult,
		Success: true,
		Source:  string(src),
		Message: "Users retrieved from " + string(src),
		Items:   users,
	})
}

func (h *Hub) handleFetchHistory(ctx context.Context, c *Client, payload json.RawMessage) {
	pair, err := pairFromPayload(payload)
	if err != nil {
		h.logger.Warn("invalid payload", "conn", c.id, "event", EventFetchHistory, "error", err)
		h.reply(c, ResultEvent{Type: EventHistoryResult, Message: "Invalid chat request"})
		return
	}

	if pair.Valid() {
		h.Bind(c, pair)
	} else {
		var ok bool
		if pair, ok = h.registry.Binding(c.id); !ok {
			h.reply(c, ResultEvent{Type: EventHistoryResult, Message: "No chat selected"})
			return
		}
	}

	items, src, err := h.store.History(ctx, pair.A, pair.B)
	if err != nil {
		h.logger.Error("fetch history", "conn", c.id, "channel", pair.Key(), "error", err)
		h.reply(c, ResultEvent{Type: EventHistoryResult, Message: "Chat could not be retrieved"})
		return
	}
	h.reply(c, historyResult(items, src))
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, payload json.RawMessage) {
	var p SendMessagePayload
	if err := decodePayload(payload, &p); err != nil || p.From == "" || p.To == "" || p.Body == "" {
		h.logger.Warn("invalid payload", "conn", c.id, "event", EventSendMessage, "error", err)
		h.reply(c, AckEvent{Type: EventMessageAck, Message: "Message not received: from, to and body are required"})
		return
	}

	res, err := h.store.SendMessage(ctx, &models.Message{FromID: p.From, ToID: p.To, Body: p.Body})
	if err != nil {
		h.logger.Error("send message", "conn", c.id, "error", err)
		h.reply(c, AckEvent{Type: EventMessageAck, Message: "Message not received: store unavailable"})
		return
	}
	if !res.OK {
		h.reply(c, AckEvent{Type: EventMessageAck, Message: "Message not received!"})
		return
	}

	if err := h.Publish(ctx, p.From, p.To); err != nil {
		h.reply(c, ResultEvent{Type: EventHistoryResult, Message: "Chat could not be retrieved"})
	}
}

// Publish re-reads the history of the a/b conversation and pushes it to
// every connection bound to that channel.
func (h *Hub) Publish(ctx context.Context, a, b string) error {
	key := channel.Canonicalize(a, b)
	items, src, err := h.store.History(ctx, a, b)
	if err != nil {
		h.logger.Error("publish history", "channel", key, "error", err)
		return err
	}

	data, err := json.Marshal(historyResult(items, src))
	if err != nil {
		return err
	}
	members := h.registry.MembersOf(key)
	for _, m := range members {
		h.deliver(m, data)
	}
	h.logger.Debug("history published", "channel", key, "members", len(members))
	return nil
}

func (h *Hub) handleJoinRoom(c *Client, payload json.RawMessage) {
	var p JoinRoomPayload
	if err := decodePayload(payload, &p); err != nil || p.Room == "" {
		h.logger.Warn("invalid payload", "conn", c.id, "event", EventJoinRoom, "error", err)
		return
	}

	res, err := h.rooms.Join(c.id, p.Room)
	if errors.Is(err, ErrRoomFull) {
		h.logger.Info("room full", "conn", c.id, "room", p.Room)
		h.reply(c, RoomFullEvent{Type: EventRoomFull, Room: p.Room})
		return
	}
	if res.Left != nil {
		h.notifyDeparture(c.id, *res.Left)
	}
	h.logger.Info("joined room", "conn", c.id, "room", p.Room, "peers", len(res.Peers))
	h.reply(c, RoomPeersEvent{Type: EventRoomPeers, Room: p.Room, Peers: res.Peers})
}

func (h *Hub) handleSignal(c *Client, typ string, payload json.RawMessage) {
	var p SignalPayload
	if err := decodePayload(payload, &p); err != nil {
		h.logger.Warn("invalid payload", "conn", c.id, "event", typ, "error", err)
		return
	}

	peers := h.rooms.PeersOf(c.id)
	if len(peers) == 0 {
		room, _ := h.rooms.RoomOf(c.id)
		h.logger.Warn("signal without room peer", "conn", c.id, "room", room, "event", typ)
		return
	}
	data, err := json.Marshal(SignalEvent{Type: relayTypes[typ], From: c.id, SDP: p.SDP, Data: p.Data})
	if err != nil {
		h.logger.Error("encode signal", "conn", c.id, "error", err)
		return
	}
	for _, id := range peers {
		if peer, ok := h.registry.Lookup(id); ok {
			h.deliver(peer, data)
		}
	}
}

func (h *Hub) notifyDeparture(id ConnID, dep Departure) {
	data, err := json.Marshal(PeerLeftEvent{Type: EventPeerLeft, ConnectionID: id})
	if err != nil {
		return
	}
	for _, rid := range dep.Remaining {
		if peer, ok := h.registry.Lookup(rid); ok {
			h.deliver(peer, data)
		}
	}
	h.logger.Info("left room", "conn", id, "room", dep.Room)
}

func (h *Hub) reply(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode reply", "conn", c.id, "error", err)
		return
	}
	h.deliver(c, data)
}

// deliver queues data for c without blocking. A client whose queue is full
// is dropped.
func (h *Hub) deliver(c *Client, data []byte) {
	if c.enqueue(data) {
		return
	}
	if c.isClosed() {
		return
	}
	h.logger.Warn("send buffer full, dropping client", "conn", c.id, "addr", c.addr)
	h.Unregister(c)
	c.closeConn()
}

func historyResult(items []models.Message, src cachestore.Source) ResultEvent {
	return ResultEvent{
		Type:    EventHistoryResult,
		Success: true,
		Source:  string(src),
		Message: "Chat retrieved from " + string(src),
		Items:   items,
	}
}

// Run blocks until ctx is done or Shutdown is called, then closes every
// live connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	select {
	case <-ctx.Done():
		h.cancel()
	case <-h.ctx.Done():
	}
	h.shutdownClients()
}

func (h *Hub) shutdownClients() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	clients := h.registry.Clients()
	for _, c := range clients {
		h.Unregister(c)
		c.closeConn()
	}
	h.logger.Info("closed client connections", "clients", len(clients))
}

// Shutdown stops Run and waits for every client goroutine to finish or for
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("hub shutting down")
	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown complete")
		return nil
	case <-deadline:
		h.logger.Warn("hub shutdown timed out, some client goroutines still running")
		return context.DeadlineExceeded
	}
}

func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.registry.Len(),
		Bound:       h.registry.Bound(),
		Rooms:       h.rooms.Len(),
	}
}
