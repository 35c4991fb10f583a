package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/api/models"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

var (
	// Time allowed to write a message to the peer.
	WriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	PongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod = (PongWait * 9) / 10
	// Maximum message size allowed from peer.
	MaxMessageSize int64 = 64 * 1024
)

const sendBuffer = 64

// Leaser keeps a key subscribed while a stream client watches it.
type Leaser interface {
	Touch(key query.Key) (*query.Subscription, error)
}

// StreamHub pushes cache changes to websocket clients.
type StreamHub struct {
	cache    *query.Cache
	leaser   Leaser
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closed  bool
	clients map[*streamClient]struct{}
	// highest version published per key; listeners may run out of order
	seen map[query.Key]uint64

	unregister func()
}

// NewStreamHub creates a hub fed by cache. leaser may be nil, in which case
// subscriptions only filter and do not keep keys polled.
func NewStreamHub(cache *query.Cache, leaser Leaser, logger zerolog.Logger) *StreamHub {
	h := &StreamHub{
		cache:  cache,
		leaser: leaser,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*streamClient]struct{}),
		seen:    make(map[query.Key]uint64),
	}
	h.unregister = cache.OnChange(h.publish)
	return h
}

// ServeHTTP handles GET /v1/dashboard/stream.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade stream connection")
		return
	}

	c := &streamClient{
		id:   uuid.NewString(),
		ws:   ws,
		hub:  h,
		keys: make(map[query.Key]struct{}),
	}
	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(WriteWait))
		_ = ws.Close()
		return
	}
	h.logger.Debug().Str("client", c.id).Msg("stream client connected")

	go c.listenWrite()
	c.listenRead()
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops listening to the cache and disconnects every client.
func (h *StreamHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()

	h.unregister()
}

// register adds c and queues the current state of every key.
func (h *StreamHub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	keys := h.cache.Keys()
	c.send = make(chan []byte, len(keys)+sendBuffer)
	h.clients[c] = struct{}{}

	for _, key := range keys {
		h.sendInitialLocked(c, key)
	}
	return true
}

func (h *StreamHub) sendInitialLocked(c *streamClient, key query.Key) {
	snap, ok := h.cache.Snapshot(key)
	if !ok {
		return
	}
	if snap.Version > h.seen[key] {
		h.seen[key] = snap.Version
	}
	msg, err := json.Marshal(envelopeOf(models.EnvelopeInitial, snap))
	if err != nil {
		h.logger.Error().Err(err).Str("key", key.String()).Msg("failed to encode stream envelope")
		return
	}
	h.deliverLocked(c, msg)
}

func (h *StreamHub) publish(snap query.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || snap.Version <= h.seen[snap.Key] {
		return
	}
	h.seen[snap.Key] = snap.Version
	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(envelopeOf(models.EnvelopeUpdate, snap))
	if err != nil {
		h.logger.Error().Err(err).Str("key", snap.Key.String()).Msg("failed to encode stream envelope")
		return
	}
	for c := range h.clients {
		if c.wants(snap.Key) {
			h.deliverLocked(c, msg)
		}
	}
}

// deliverLocked queues msg for c, dropping clients that fall behind.
func (h *StreamHub) deliverLocked(c *streamClient, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn().Str("client", c.id).Msg("stream client too slow, disconnecting")
		h.dropLocked(c)
	}
}

func (h *StreamHub) dropLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
	h.logger.Debug().Str("client", c.id).Msg("stream client disconnected")
}

// control applies a SUBSCRIBE or UNSUBSCRIBE message from c.
func (h *StreamHub) control(c *streamClient, msg models.StreamControl) {
	keys := make([]query.Key, 0, len(msg.Keys))
	for _, raw := range msg.Keys {
		key, err := dashboard.ParseKey(raw)
		if err != nil {
			h.logger.Debug().Err(err).Str("client", c.id).Msg("ignoring invalid stream key")
			continue
		}
		keys = append(keys, key)
	}

	switch msg.Type {
	case models.StreamSubscribe:
		// leasing may notify listeners synchronously, so h.mu must not be held
		keys = h.lease(keys)

		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[c]; !ok {
			return
		}
		for _, key := range keys {
			c.keys[key] = struct{}{}
			h.sendInitialLocked(c, key)
		}
	case models.StreamUnsubscribe:
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, key := range keys {
			delete(c.keys, key)
		}
	default:
		h.logger.Debug().Str("client", c.id).Str("type", msg.Type).Msg("ignoring unknown stream message")
	}
}

// lease renews keys and returns the ones that hold a lease.
func (h *StreamHub) lease(keys []query.Key) []query.Key {
	if h.leaser == nil {
		return keys
	}
	leased := keys[:0:0]
	for _, key := range keys {
		if _, err := h.leaser.Touch(key); err != nil {
			h.logger.Debug().Err(err).Str("key", key.String()).Msg("failed to lease stream key")
			continue
		}
		leased = append(leased, key)
	}
	return leased
}

func (h *StreamHub) subscribedKeys(c *streamClient) []query.Key {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]query.Key, 0, len(c.keys))
	for key := range c.keys {
		keys = append(keys, key)
	}
	return keys
}

func envelopeOf(typ string, snap query.Snapshot) models.Envelope {
	v := dashboard.ViewOf(snap)
	return models.Envelope{
		Type:      typ,
		Key:       snap.Key.String(),
		State:     string(v.State),
		Status:    string(snap.Status),
		Fetching:  snap.IsFetching,
		Stale:     v.Stale,
		Error:     v.Error,
		Data:      v.Data,
		UpdatedAt: models.TimestampPtr(snap.DataUpdatedAt),
		Version:   snap.Version,
	}
}

type streamClient struct {
	id   string
	ws   *websocket.Conn
	hub  *StreamHub
	send chan []byte

	// guarded by hub.mu; empty means every key
	keys map[query.Key]struct{}
}

func (c *streamClient) wants(key query.Key) bool {
	if len(c.keys) == 0 {
		return true
	}
	_, ok := c.keys[key]
	return ok
}

func (c *streamClient) listenRead() {
	defer func() {
		c.hub.remove(c)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(PongWait)); err != nil {
		c.hub.logger.Error().Err(err).Msg("failed to set socket read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(PongWait))
	})
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("ws read message error")
			return
		}

		var msg models.StreamControl
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("invalid stream control message")
			continue
		}
		c.hub.control(c, msg)
	}
}

func (c *streamClient) listenWrite() {
	write := func(mt int, payload []byte) error {
		if err := c.ws.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
			return err
		}
		return c.ws.WriteMessage(mt, payload)
	}
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("failed to write socket message")
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("failed to ping socket")
				return
			}
			// watched keys stay leased while the client is connected
			c.hub.lease(c.hub.subscribedKeys(c))
		}
	}
}
