package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/TrTueTah/ventidole-core/pkg/model"
)

// SubscriptionStore is the slice of the membership store the hub needs
// on connect and disconnect.
type SubscriptionStore interface {
	GetActiveChannelIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	SetUserOnline(ctx context.Context, userID uuid.UUID, online bool) error
}

// SessionPolicy answers whether a connection may subscribe to a
// channel and records explicit read receipts.
type SessionPolicy interface {
	CanSubscribe(ctx context.Context, channelID, userID uuid.UUID) error
	MarkMessageRead(ctx context.Context, channelID, userID uuid.UUID, messageID int64) error
}

// Hub owns every live connection of this process: the per-user
// connection registry, the per-channel subscription sets and the
// presence transitions derived from them. It is authoritative for
// presence within a single instance; the Redis mirror makes the
// online sets queryable across instances.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]bool // channel_id -> clients
	users    map[string]map[*Client]bool // user_id -> clients

	store     SubscriptionStore
	policy    SessionPolicy
	publisher Publisher
	redis     *redis.Client
	logger    *slog.Logger
}

func NewHub(store SubscriptionStore, publisher Publisher, rdb *redis.Client, logger *slog.Logger) *Hub {
	return &Hub{
		channels:  make(map[string]map[*Client]bool),
		users:     make(map[string]map[*Client]bool),
		store:     store,
		publisher: publisher,
		redis:     rdb,
		logger:    logger,
	}
}

// SetPolicy wires the session policy in after construction; the hub
// and the message pipeline reference each other.
func (h *Hub) SetPolicy(policy SessionPolicy) {
	h.policy = policy
}

// Register adds a connection to its user's live set, auto-subscribes
// it to all the user's channels and, on the offline->online
// transition, announces presence. The first/last decision happens
// under the lock; no store call does.
func (h *Hub) Register(ctx context.Context, client *Client) {
	userID := client.UserID.String()

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Client]bool)
	}
	h.users[userID][client] = true
	first := len(h.users[userID]) == 1
	h.mu.Unlock()

	channelIDs, err := h.store.GetActiveChannelIDs(ctx, client.UserID)
	if err != nil {
		// The connection stays registered but receives no channel
		// broadcasts until it explicitly re-joins.
		h.logger.Error("auto-subscribe failed, connection degraded", "user", userID, "err", err)
		channelIDs = nil
	}

	h.mu.Lock()
	for _, id := range channelIDs {
		h.subscribeLocked(client, id.String())
	}
	h.mu.Unlock()

	h.mirrorPresence(ctx, client, channelIDs, true)

	h.logger.Info("client registered", "user", userID, "channels", len(channelIDs), "first", first)

	if first {
		if err := h.store.SetUserOnline(ctx, client.UserID, true); err != nil {
			h.logger.Error("online flag update failed", "user", userID, "err", err)
		}
		h.announceStatus(ctx, client.UserID, channelIDs, true)
	}
}

// Unregister removes a connection. On the online->offline transition
// it announces presence to the channels the connection was subscribed
// to. Safe to call more than once per client.
func (h *Hub) Unregister(ctx context.Context, client *Client) {
	userID := client.UserID.String()

	h.mu.Lock()
	present := false
	if clients, ok := h.users[userID]; ok {
		if clients[client] {
			present = true
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.users, userID)
			}
		}
	}
	var channelIDs []uuid.UUID
	for id := range client.channels {
		if clients, ok := h.channels[id]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.channels, id)
			}
		}
		if parsed, err := uuid.Parse(id); err == nil {
			channelIDs = append(channelIDs, parsed)
		}
	}
	last := present && h.users[userID] == nil
	h.closeLocked(client)
	h.mu.Unlock()

	if !present {
		return
	}

	h.mirrorPresence(ctx, client, channelIDs, false)

	h.logger.Info("client unregistered", "user", userID, "last", last)

	if last {
		if err := h.store.SetUserOnline(ctx, client.UserID, false); err != nil {
			h.logger.Error("offline flag update failed", "user", userID, "err", err)
		}
		h.announceStatus(ctx, client.UserID, channelIDs, false)
	}
}

// Join subscribes a connection to one channel after checking that an
// active participant row exists. Idempotent.
func (h *Hub) Join(ctx context.Context, client *Client, channelID uuid.UUID) error {
	if err := h.policy.CanSubscribe(ctx, channelID, client.UserID); err != nil {
		return err
	}
	h.mu.Lock()
	h.subscribeLocked(client, channelID.String())
	h.mu.Unlock()
	h.logger.Info("client joined channel", "user", client.UserID, "channel", channelID)
	return nil
}

// Leave drops the local subscription only; participant state in the
// membership store is untouched.
func (h *Hub) Leave(client *Client, channelID uuid.UUID) {
	id := channelID.String()
	h.mu.Lock()
	if clients, ok := h.channels[id]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, id)
		}
	}
	delete(client.channels, id)
	h.mu.Unlock()
}

// PublishTyping is fire-and-forget: the indicator rides the bus and is
// lost on disconnect, which is acceptable.
func (h *Hub) PublishTyping(ctx context.Context, client *Client, channelID uuid.UUID, userName string, isTyping bool) {
	event := model.NewEvent(model.EventUserTyping, model.UserTypingPayload{
		ChannelID: channelID,
		UserID:    client.UserID,
		UserName:  userName,
		IsTyping:  isTyping,
	})
	event.ChannelID = channelID.String()
	event.ExcludeUserID = client.UserID.String()
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("typing broadcast failed", "channel", channelID, "err", err)
	}
}

// IsOnline reports whether the user has at least one live connection
// on this instance.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID.String()]) > 0
}

// ConnectionCount returns the live connection count for a user.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID.String()])
}

// Route delivers one bus event to the matching local connections:
// user-targeted events go to every connection of that user, channel
// events to the channel's subscribers minus the excluded originator.
// Delivery is at-most-once; slow consumers are dropped.
func (h *Hub) Route(event model.Event) {
	frame, err := json.Marshal(model.Frame{Event: event.Type, Data: event.Data})
	if err != nil {
		h.logger.Error("frame marshal failed", "event", event.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if event.TargetUserID != "" {
		for client := range h.users[event.TargetUserID] {
			h.deliverLocked(client, frame)
		}
		return
	}
	if event.ChannelID == "" {
		return
	}
	for client := range h.channels[event.ChannelID] {
		if event.ExcludeUserID != "" && client.UserID.String() == event.ExcludeUserID {
			continue
		}
		h.deliverLocked(client, frame)
	}
}

func (h *Hub) subscribeLocked(client *Client, channelID string) {
	if h.channels[channelID] == nil {
		h.channels[channelID] = make(map[*Client]bool)
	}
	h.channels[channelID][client] = true
	client.channels[channelID] = true
}

func (h *Hub) deliverLocked(client *Client, frame []byte) {
	if client.closed {
		return
	}
	select {
	case client.send <- frame:
	default:
		// Slow consumer: close the connection rather than block fan-out.
		// The write pump exits on the closed channel and the read pump's
		// unregister handles the presence transition.
		h.closeLocked(client)
	}
}

func (h *Hub) closeLocked(client *Client) {
	if client.closed {
		return
	}
	client.closed = true
	close(client.send)
}

func (h *Hub) announceStatus(ctx context.Context, userID uuid.UUID, channelIDs []uuid.UUID, online bool) {
	event := model.NewEvent(model.EventUserStatusChanged, model.UserStatusPayload{
		UserID:    userID,
		IsOnline:  online,
		Timestamp: time.Now(),
	})
	for _, channelID := range channelIDs {
		event.ChannelID = channelID.String()
		if err := h.publisher.Publish(ctx, event); err != nil {
			h.logger.Warn("presence broadcast failed", "channel", channelID, "err", err)
		}
	}
}

// mirrorPresence keeps the cross-instance Redis sets in sync.
// Best-effort: presence failures never fail a connection.
func (h *Hub) mirrorPresence(ctx context.Context, client *Client, channelIDs []uuid.UUID, online bool) {
	if h.redis == nil {
		return
	}
	userID := client.UserID.String()
	var err error
	if online {
		err = h.redis.SAdd(ctx, "online_users", userID).Err()
		for _, id := range channelIDs {
			if e := h.redis.SAdd(ctx, "channel:"+id.String()+":users", userID).Err(); e != nil {
				err = e
			}
		}
	} else if !h.IsOnline(client.UserID) {
		err = h.redis.SRem(ctx, "online_users", userID).Err()
		for _, id := range channelIDs {
			if e := h.redis.SRem(ctx, "channel:"+id.String()+":users", userID).Err(); e != nil {
				err = e
			}
		}
	}
	if err != nil {
		h.logger.Warn("presence mirror update failed", "user", userID, "err", err)
	}
}
