package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TrTueTah/ventidole-core/pkg/auth"
	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
	"github.com/TrTueTah/ventidole-core/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between one websocket connection and the hub.
// A connection's inbound events are processed in the order received;
// connections interleave freely with each other.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	UserID uuid.UUID

	// Subscribed channel ids. Owned by the hub, guarded by hub.mu.
	channels map[string]bool
	closed   bool

	logger *slog.Logger
}

type joinChannelRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type typingRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserName  string    `json:"userName,omitempty"`
}

type messageReadRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
	MessageID int64     `json:"messageId,string"`
}

// readPump pumps frames from the websocket connection into the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(context.Background(), c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "user", c.UserID, "err", err)
			}
			break
		}

		var frame model.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.ack(model.Ack{Event: "", Success: false, Error: string(apperrors.CodeInvalidArgument)})
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch handles one client frame and always answers with an
// explicit ack carrying a tagged result.
func (c *Client) dispatch(frame model.Frame) {
	ctx := context.Background()

	switch frame.Event {
	case model.EventJoinChannel:
		var req joinChannelRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.ack(model.Ack{Event: frame.Event, Success: false, Error: string(apperrors.CodeInvalidArgument)})
			return
		}
		if err := c.hub.Join(ctx, c, req.ChannelID); err != nil {
			c.ack(model.Ack{Event: frame.Event, Success: false, ChannelID: req.ChannelID.String(), Error: string(apperrors.CodeOf(err))})
			return
		}
		c.ack(model.Ack{Event: frame.Event, Success: true, ChannelID: req.ChannelID.String()})

	case model.EventLeaveChannel:
		var req joinChannelRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.ack(model.Ack{Event: frame.Event, Success: false, Error: string(apperrors.CodeInvalidArgument)})
			return
		}
		c.hub.Leave(c, req.ChannelID)
		c.ack(model.Ack{Event: frame.Event, Success: true, ChannelID: req.ChannelID.String()})

	case model.EventTypingStart, model.EventTypingStop:
		var req typingRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return
		}
		c.hub.PublishTyping(ctx, c, req.ChannelID, req.UserName, frame.Event == model.EventTypingStart)

	case model.EventMessageRead:
		var req messageReadRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.ack(model.Ack{Event: frame.Event, Success: false, Error: string(apperrors.CodeInvalidArgument)})
			return
		}
		if err := c.hub.policy.MarkMessageRead(ctx, req.ChannelID, c.UserID, req.MessageID); err != nil {
			c.ack(model.Ack{Event: frame.Event, Success: false, ChannelID: req.ChannelID.String(), Error: string(apperrors.CodeOf(err))})
			return
		}
		c.ack(model.Ack{Event: frame.Event, Success: true, ChannelID: req.ChannelID.String()})

	default:
		c.ack(model.Ack{Event: frame.Event, Success: false, Error: string(apperrors.CodeInvalidArgument)})
	}
}

func (c *Client) ack(ack model.Ack) {
	data, _ := json.Marshal(ack)
	frame, _ := json.Marshal(model.Frame{Event: model.EventAck, Data: data})
	select {
	case c.send <- frame:
	default:
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS authenticates and upgrades a websocket request, then hands
// the connection to the hub.
func ServeWS(hub *Hub, verifier *auth.Verifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			// Query param fallback, standard for browser WS clients.
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := verifier.Verify(auth.StripBearer(tokenString))
		if err != nil {
			logger.Warn("websocket auth failed", "err", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "err", err)
			return
		}

		client := &Client{
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, 256),
			UserID:   userID,
			channels: make(map[string]bool),
			logger:   logger,
		}
		hub.Register(context.Background(), client)

		go client.writePump()
		go client.readPump()
	}
}
