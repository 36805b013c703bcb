package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/TrTueTah/ventidole-core/pkg/auth"
	"github.com/TrTueTah/ventidole-core/pkg/chat"
	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
	"github.com/TrTueTah/ventidole-core/pkg/response"
)

type API struct {
	service  *chat.Service
	verifier *auth.Verifier
	redis    *redis.Client
	logger   *slog.Logger
}

func NewAPI(service *chat.Service, verifier *auth.Verifier, rdb *redis.Client, logger *slog.Logger) *API {
	return &API{service: service, verifier: verifier, redis: rdb, logger: logger}
}

// Routes registers method-qualified patterns. CORS is not applied here:
// the mux answers an unmatched OPTIONS preflight with 405 before any
// per-route middleware runs, so CORSMiddleware must wrap the whole mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.Handle("POST /login", http.HandlerFunc(a.Login))

	protected := func(h http.HandlerFunc) http.Handler {
		return a.AuthMiddleware(h)
	}
	mux.Handle("POST /chat/channels", protected(a.CreateChannel))
	mux.Handle("GET /chat/channels", protected(a.GetMyChannels))
	mux.Handle("GET /chat/channels/{channelId}", protected(a.GetChannelByID))
	mux.Handle("GET /chat/channels/{channelId}/users", protected(a.GetOnlineUsers))
	mux.Handle("GET /chat/channels/{channelId}/messages", protected(a.GetMessages))
	mux.Handle("POST /chat/channels/read", protected(a.MarkAsRead))
	mux.Handle("POST /chat/channels/participants", protected(a.AddParticipants))
	mux.Handle("POST /chat/channels/{channelId}/leave", protected(a.LeaveChannel))
	mux.Handle("POST /chat/messages", protected(a.SendMessage))
	mux.Handle("PATCH /chat/messages/{messageId}", protected(a.UpdateMessage))
	mux.Handle("DELETE /chat/messages/{messageId}", protected(a.DeleteMessage))
}

// CORSMiddleware wraps the full mux so browser preflights short-circuit
// here with the headers set, never reaching method dispatch.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			response.WriteError(w, apperrors.ErrNotAuthenticated)
			return
		}

		claims, err := a.verifier.Verify(auth.StripBearer(tokenString))
		if err != nil {
			response.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login issues a token for a known user id. Identity issuance proper
// lives outside this subsystem; this endpoint exists for development
// and the demo client.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, apperrors.InvalidArg("invalid request body"))
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		response.WriteError(w, apperrors.InvalidArg("userId must be a uuid"))
		return
	}

	token, err := a.verifier.GenerateToken(req.UserID, req.Role)
	if err != nil {
		a.logger.Error("token generation failed", "err", err)
		response.WriteError(w, apperrors.Internal("failed to generate token"))
		return
	}
	response.WriteData(w, loginResponse{Token: token})
}

func (a *API) CreateChannel(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	var req chat.CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, apperrors.InvalidArg("invalid request body"))
		return
	}

	channel, err := a.service.CreateChannel(r.Context(), req, requesterID)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, response.Created(channel))
}

func (a *API) GetMyChannels(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	channels, err := a.service.GetMyChannels(r.Context(), requesterID)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteData(w, channels)
}

func (a *API) GetChannelByID(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	channelID, err := pathUUID(r, "channelId")
	if err != nil {
		response.WriteError(w, err)
		return
	}
	channel, err := a.service.GetChannelByID(r.Context(), channelID, requesterID)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteData(w, channel)
}

// GetOnlineUsers reads the cross-instance presence mirror.
func (a *API) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathUUID(r, "channelId")
	if err != nil {
		response.WriteError(w, err)
		return
	}
	users, err := a.redis.SMembers(r.Context(), "channel:"+channelID.String()+":users").Result()
	if err != nil {
		a.logger.Error("presence lookup failed", "channel", channelID, "err", err)
		response.WriteError(w, apperrors.Internal("failed to fetch presence"))
		return
	}
	response.WriteData(w, users)
}

func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	var req chat.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, apperrors.InvalidArg("invalid request body"))
		return
	}

	msg, err := a.service.SendMessage(r.Context(), requesterID, req)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, response.Created(msg))
}

func (a *API) GetMessages(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	channelID, err := pathUUID(r, "channelId")
	if err != nil {
		response.WriteError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.WriteError(w, apperrors.InvalidArg("limit must be a positive integer"))
			return
		}
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := a.service.GetMessages(r.Context(), channelID, limit, cursor, &requesterID)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteData(w, page)
}

func (a *API) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	var req chat.MarkAsReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, apperrors.InvalidArg("invalid request body"))
		return
	}
	if err := a.service.MarkAsRead(r.Context(), req.ChannelID, requesterID); err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, response.OK())
}

func (a *API) AddParticipants(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	var req chat.AddParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, apperrors.InvalidArg("invalid request body"))
		return
	}
	result, err := a.service.AddParticipants(r.Context(), requesterID, req)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteData(w, result)
}

func (a *API) LeaveChannel(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	channelID, err := pathUUID(r, "channelId")
	if err != nil {
		response.WriteError(w, err)
		return
	}
	if err := a.service.LeaveChannel(r.Context(), channelID, requesterID); err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, response.OK())
}

func (a *API) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	messageID, err := pathMessageID(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	var req chat.UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, apperrors.InvalidArg("invalid request body"))
		return
	}
	msg, err := a.service.UpdateMessage(r.Context(), requesterID, req.ChannelID, messageID, req.Content)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteData(w, msg)
}

func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requester(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	messageID, err := pathMessageID(r)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	channelID, err := uuid.Parse(r.URL.Query().Get("channelId"))
	if err != nil {
		response.WriteError(w, apperrors.InvalidArg("channelId query param is required"))
		return
	}
	if err := a.service.DeleteMessage(r.Context(), requesterID, channelID, messageID); err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, response.OK())
}

func requester(r *http.Request) (uuid.UUID, error) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	if !ok {
		return uuid.Nil, apperrors.ErrNotAuthenticated
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, apperrors.ErrInvalidCredential
	}
	return userID, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperrors.InvalidArg(name + " must be a uuid")
	}
	return id, nil
}

func pathMessageID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("messageId"), 10, 64)
	if err != nil {
		return 0, apperrors.InvalidArg("messageId must be an integer")
	}
	return id, nil
}
