package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
	"github.com/TrTueTah/ventidole-core/pkg/messagestore"
	"github.com/TrTueTah/ventidole-core/pkg/model"
	"github.com/TrTueTah/ventidole-core/pkg/notify"
	"github.com/TrTueTah/ventidole-core/pkg/snowflake"
)

const DefaultPageLimit = 50

// Service is the message pipeline: it validates sender membership and
// channel policy, persists to the message store, updates counters in
// the membership store and triggers fan-out plus push notification.
//
// The two stores are never joined in one transaction. The message
// write is the durability point; everything after it is best-effort
// and only logged on failure, since the message is already visible to
// readers.
type Service struct {
	membership  MembershipStore
	messages    MessageStore
	ids         *snowflake.Node
	broadcaster Broadcaster
	presence    Presence
	notifier    notify.Notifier
	logger      *slog.Logger
}

func NewService(
	membership MembershipStore,
	messages MessageStore,
	ids *snowflake.Node,
	broadcaster Broadcaster,
	presence Presence,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		membership:  membership,
		messages:    messages,
		ids:         ids,
		broadcaster: broadcaster,
		presence:    presence,
		notifier:    notifier,
		logger:      logger,
	}
}

// CreateChannel creates the channel row plus an admin participant row
// for the requester, then member rows for the requested user ids.
func (s *Service) CreateChannel(ctx context.Context, req CreateChannelRequest, requesterID uuid.UUID) (*model.Channel, error) {
	switch req.Type {
	case model.ChannelDirect, model.ChannelGroup, model.ChannelAnnouncement:
	default:
		return nil, apperrors.InvalidArg("unknown channel type")
	}
	if req.Type == model.ChannelGroup && req.GroupID == nil {
		return nil, apperrors.ErrGroupRequired
	}
	isAnnouncement := req.IsAnnouncement || req.Type == model.ChannelAnnouncement
	if req.Type == model.ChannelAnnouncement && req.OwnerID == nil {
		return nil, apperrors.ErrOwnerRequired
	}
	if isAnnouncement {
		if req.OwnerID == nil || *req.OwnerID != requesterID {
			return nil, apperrors.ErrNotAnnouncementOwner
		}
	}

	now := time.Now()
	channel := &model.Channel{
		ID:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		Type:           req.Type,
		GroupID:        req.GroupID,
		OwnerID:        req.OwnerID,
		IsAnnouncement: isAnnouncement,
		MessageKey:     uuid.NewString(),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	participants := []*model.Participant{{
		ChannelID: channel.ID,
		UserID:    requesterID,
		Role:      model.RoleAdmin,
		IsActive:  true,
		JoinedAt:  now,
	}}
	added := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	seen := map[uuid.UUID]bool{requesterID: true}
	for _, id := range req.ParticipantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		added = append(added, id)
		participants = append(participants, &model.Participant{
			ChannelID: channel.ID,
			UserID:    id,
			Role:      model.RoleMember,
			IsActive:  true,
			JoinedAt:  now,
		})
	}

	if err := s.membership.CreateChannel(ctx, channel, participants); err != nil {
		s.logger.Error("create channel failed", "err", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to create channel", err)
	}

	event := model.NewEvent(model.EventNewChannel, channel)
	for _, userID := range added {
		event.TargetUserID = userID.String()
		s.publish(ctx, event)
	}

	return channel, nil
}

// GetMyChannels lists the requester's active channels, newest activity
// first, each decorated with that participant's own read state.
func (s *Service) GetMyChannels(ctx context.Context, userID uuid.UUID) ([]*ChannelView, error) {
	participants, err := s.membership.GetUserChannels(ctx, userID)
	if err != nil {
		s.logger.Error("list channels failed", "user", userID, "err", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to list channels", err)
	}
	views := make([]*ChannelView, 0, len(participants))
	for _, p := range participants {
		if p.Channel == nil || !p.Channel.IsActive {
			continue
		}
		views = append(views, &ChannelView{
			Channel:     p.Channel,
			UnreadCount: p.UnreadCount,
			LastReadAt:  p.LastReadAt,
			IsMuted:     p.IsMuted,
		})
	}
	return views, nil
}

func (s *Service) GetChannelByID(ctx context.Context, channelID, userID uuid.UUID) (*model.Channel, error) {
	if _, err := s.activeParticipant(ctx, channelID, userID); err != nil {
		return nil, err
	}
	channel, err := s.membership.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return nil, apperrors.ErrChannelNotFound
	}
	return channel, nil
}

// SendMessage validates policy, persists the message and then runs the
// best-effort tail: counters, fan-out, push.
func (s *Service) SendMessage(ctx context.Context, senderID uuid.UUID, req SendMessageRequest) (*model.Message, error) {
	if req.Content == "" {
		return nil, apperrors.ErrEmptyContent
	}
	if req.Kind == "" {
		req.Kind = model.KindText
	}

	participant, err := s.activeParticipant(ctx, req.ChannelID, senderID)
	if err != nil {
		return nil, err
	}
	channel, err := s.membership.GetChannelByID(ctx, req.ChannelID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return nil, apperrors.ErrChannelNotFound
	}
	if channel.IsAnnouncement && participant.Role != model.RoleAdmin {
		return nil, apperrors.ErrAnnouncementLocked
	}

	// Sender display fields are resolved fresh on every send; the
	// profile store is the single source of truth for them.
	sender, err := s.membership.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to resolve sender", err)
	}
	if sender == nil {
		return nil, apperrors.ErrUserNotFound
	}

	id := s.ids.Generate()
	at := snowflake.Time(id)
	msg := &model.Message{
		ID:           id,
		ChannelKey:   channel.MessageKey,
		ChannelID:    channel.ID,
		SenderID:     senderID,
		SenderName:   displayName(sender),
		SenderAvatar: sender.AvatarURL,
		Kind:         req.Kind,
		Content:      req.Content,
		MediaURL:     req.MediaURL,
		ThumbnailURL: req.ThumbnailURL,
		Metadata:     req.Metadata,
		ReplyTo:      req.ReplyTo,
		CreatedAt:    at,
		UpdatedAt:    at,
		ReadBy:       []string{senderID.String()},
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		s.logger.Error("message write failed", "channel", channel.ID, "err", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to send message", err)
	}

	// The message is durable from here on. Counter updates, fan-out
	// and push are best-effort and never rolled back into the sender's
	// response.
	if err := s.membership.BumpChannelActivity(ctx, channel.ID, at); err != nil {
		s.logger.Error("channel activity update failed", "channel", channel.ID, "err", err)
	}
	if err := s.membership.IncrementUnread(ctx, channel.ID, senderID); err != nil {
		s.logger.Error("unread increment failed", "channel", channel.ID, "err", err)
	}
	if msg.ReplyTo != 0 {
		if err := s.messages.IncrementReplies(ctx, channel.MessageKey, msg.ReplyTo); err != nil {
			s.logger.Error("reply counter increment failed", "parent", msg.ReplyTo, "err", err)
		}
	}

	event := model.NewEvent(model.EventNewMessage, msg)
	event.ChannelID = channel.ID.String()
	s.publish(ctx, event)

	s.sendPushNotifications(ctx, channel, msg)

	return msg, nil
}

// GetMessages pages history newest-first. requesterID may be nil for
// service-to-service calls; when present it must be an active
// participant.
func (s *Service) GetMessages(ctx context.Context, channelID uuid.UUID, limit int, cursor string, requesterID *uuid.UUID) (*MessagePage, error) {
	if requesterID != nil {
		if _, err := s.activeParticipant(ctx, channelID, *requesterID); err != nil {
			return nil, err
		}
	}
	channel, err := s.membership.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return nil, apperrors.ErrChannelNotFound
	}

	if limit <= 0 {
		limit = DefaultPageLimit
	}
	var beforeID int64
	if cursor != "" {
		beforeID, err = messagestore.DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
	}

	messages, lastID, err := s.messages.List(ctx, channel.MessageKey, limit, beforeID)
	if err != nil {
		s.logger.Error("message list failed", "channel", channelID, "err", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load messages", err)
	}

	s.refreshSenderProfiles(ctx, messages)
	s.attachReplyCounts(ctx, channel.MessageKey, messages)

	page := &MessagePage{Messages: messages}
	if lastID != 0 {
		page.NextCursor = messagestore.EncodeCursor(lastID)
	}
	return page, nil
}

func (s *Service) MarkAsRead(ctx context.Context, channelID, userID uuid.UUID) error {
	if _, err := s.activeParticipant(ctx, channelID, userID); err != nil {
		return err
	}
	if err := s.membership.MarkAsRead(ctx, channelID, userID); err != nil {
		s.logger.Error("mark as read failed", "channel", channelID, "user", userID, "err", err)
		return apperrors.Wrap(apperrors.CodeInternal, "failed to mark as read", err)
	}
	return nil
}

// AddParticipants inserts member rows for the given users, skipping
// ids that already have one. Admin role required. Only the users
// actually inserted get a new_channel event; existing members are not
// re-notified.
func (s *Service) AddParticipants(ctx context.Context, requesterID uuid.UUID, req AddParticipantsRequest) (*AddParticipantsResult, error) {
	if len(req.UserIDs) == 0 {
		return nil, apperrors.ErrNoParticipantIDs
	}
	participant, err := s.activeParticipant(ctx, req.ChannelID, requesterID)
	if err != nil {
		return nil, err
	}
	if participant.Role != model.RoleAdmin {
		return nil, apperrors.ErrNotChannelAdmin
	}

	inserted, err := s.membership.AddParticipants(ctx, req.ChannelID, req.UserIDs, model.RoleMember)
	if err != nil {
		s.logger.Error("add participants failed", "channel", req.ChannelID, "err", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to add participants", err)
	}

	event := model.NewEvent(model.EventNewChannel, map[string]string{"channelId": req.ChannelID.String()})
	for _, userID := range inserted {
		event.TargetUserID = userID.String()
		s.publish(ctx, event)
	}

	return &AddParticipantsResult{Added: int64(len(inserted))}, nil
}

// LeaveChannel marks the participant row inactive. Message history and
// the channel row stay.
func (s *Service) LeaveChannel(ctx context.Context, channelID, userID uuid.UUID) error {
	participant, err := s.membership.GetParticipant(ctx, channelID, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to load participant", err)
	}
	if participant == nil {
		return apperrors.ErrNotAParticipant
	}
	if err := s.membership.DeactivateParticipant(ctx, channelID, userID); err != nil {
		s.logger.Error("leave channel failed", "channel", channelID, "user", userID, "err", err)
		return apperrors.Wrap(apperrors.CodeInternal, "failed to leave channel", err)
	}
	return nil
}

// UpdateMessage edits a message in place. Only the original sender may
// edit; deleted messages are terminal.
func (s *Service) UpdateMessage(ctx context.Context, userID, channelID uuid.UUID, messageID int64, content string) (*model.Message, error) {
	if content == "" {
		return nil, apperrors.ErrEmptyContent
	}
	channel, msg, err := s.ownedMessage(ctx, userID, channelID, messageID)
	if err != nil {
		return nil, err
	}

	at := time.Now()
	if err := s.messages.UpdateContent(ctx, channel.MessageKey, messageID, content, at); err != nil {
		s.logger.Error("message update failed", "message", messageID, "err", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to update message", err)
	}
	msg.Content = content
	msg.UpdatedAt = at

	event := model.NewEvent(model.EventMessageUpdated, msg)
	event.ChannelID = channel.ID.String()
	s.publish(ctx, event)

	return msg, nil
}

// DeleteMessage soft-deletes. The row stays fetchable for integrity
// checks; a reply delete decrements the parent's reply counter.
func (s *Service) DeleteMessage(ctx context.Context, userID, channelID uuid.UUID, messageID int64) error {
	channel, msg, err := s.ownedMessage(ctx, userID, channelID, messageID)
	if err != nil {
		return err
	}

	if err := s.messages.SoftDelete(ctx, channel.MessageKey, messageID, time.Now()); err != nil {
		s.logger.Error("message delete failed", "message", messageID, "err", err)
		return apperrors.Wrap(apperrors.CodeInternal, "failed to delete message", err)
	}
	if msg.ReplyTo != 0 {
		if err := s.messages.DecrementReplies(ctx, channel.MessageKey, msg.ReplyTo); err != nil {
			s.logger.Error("reply counter decrement failed", "parent", msg.ReplyTo, "err", err)
		}
	}

	event := model.NewEvent(model.EventMessageDeleted, model.MessageDeletedPayload{
		ChannelID: channel.ID,
		MessageID: messageID,
	})
	event.ChannelID = channel.ID.String()
	s.publish(ctx, event)

	return nil
}

// MarkMessageRead adds the reader to the message's readers set and
// broadcasts the receipt. The set only ever grows.
func (s *Service) MarkMessageRead(ctx context.Context, channelID, userID uuid.UUID, messageID int64) error {
	participant, err := s.activeParticipant(ctx, channelID, userID)
	if err != nil {
		return err
	}
	channel, err := s.membership.GetChannelByID(ctx, channelID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return apperrors.ErrChannelNotFound
	}
	if err := s.messages.AddReader(ctx, channel.MessageKey, messageID, participant.UserID); err != nil {
		s.logger.Error("read receipt write failed", "message", messageID, "err", err)
		return apperrors.Wrap(apperrors.CodeInternal, "failed to record read receipt", err)
	}

	event := model.NewEvent(model.EventMessageReadReceipt, model.ReadReceiptPayload{
		ChannelID: channelID,
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now(),
	})
	event.ChannelID = channelID.String()
	s.publish(ctx, event)

	return nil
}

// CanSubscribe reports whether a connection may join a channel's
// broadcasts. Used by the session manager on join_channel.
func (s *Service) CanSubscribe(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := s.activeParticipant(ctx, channelID, userID)
	return err
}

func (s *Service) activeParticipant(ctx context.Context, channelID, userID uuid.UUID) (*model.Participant, error) {
	participant, err := s.membership.GetParticipant(ctx, channelID, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load participant", err)
	}
	if participant == nil || !participant.IsActive {
		return nil, apperrors.ErrNotAParticipant
	}
	return participant, nil
}

func (s *Service) ownedMessage(ctx context.Context, userID, channelID uuid.UUID, messageID int64) (*model.Channel, *model.Message, error) {
	channel, err := s.membership.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load channel", err)
	}
	if channel == nil {
		return nil, nil, apperrors.ErrChannelNotFound
	}
	msg, err := s.messages.Get(ctx, channel.MessageKey, messageID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load message", err)
	}
	if msg == nil {
		return nil, nil, apperrors.ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, nil, apperrors.ErrNotMessageSender
	}
	if msg.IsDeleted {
		return nil, nil, apperrors.ErrMessageDeleted
	}
	return channel, msg, nil
}

// refreshSenderProfiles overwrites stored display fields with a fresh
// profile lookup, once per distinct sender per page.
func (s *Service) refreshSenderProfiles(ctx context.Context, messages []*model.Message) {
	profiles := make(map[uuid.UUID]*model.User)
	for _, msg := range messages {
		user, ok := profiles[msg.SenderID]
		if !ok {
			var err error
			user, err = s.membership.GetUserByID(ctx, msg.SenderID)
			if err != nil {
				s.logger.Warn("sender profile refresh failed", "sender", msg.SenderID, "err", err)
			}
			profiles[msg.SenderID] = user
		}
		if user != nil {
			msg.SenderName = displayName(user)
			msg.SenderAvatar = user.AvatarURL
		}
	}
}

// attachReplyCounts decorates a page with per-message reply counts from
// the counter table. Best-effort: a failed lookup leaves the count at
// zero rather than failing the read.
func (s *Service) attachReplyCounts(ctx context.Context, channelKey string, messages []*model.Message) {
	for _, msg := range messages {
		count, err := s.messages.ReplyCount(ctx, channelKey, msg.ID)
		if err != nil {
			s.logger.Warn("reply count lookup failed", "message", msg.ID, "err", err)
			continue
		}
		msg.ReplyCount = count
	}
}

func (s *Service) sendPushNotifications(ctx context.Context, channel *model.Channel, msg *model.Message) {
	tokens, err := s.membership.GetNotifiableTokens(ctx, channel.ID, msg.SenderID)
	if err != nil {
		s.logger.Error("device token lookup failed", "channel", channel.ID, "err", err)
		return
	}

	// Only users without a live connection get a push; everyone else
	// already received the fan-out.
	offline := make([]string, 0, len(tokens))
	for userID, token := range tokens {
		if s.presence != nil && s.presence.IsOnline(userID) {
			continue
		}
		offline = append(offline, token)
	}
	if len(offline) == 0 {
		return
	}

	err = s.notifier.Send(ctx, notify.Payload{
		Tokens: offline,
		Title:  msg.SenderName,
		Body:   msg.Content,
		Data: map[string]string{
			"type":      "chat_message",
			"channelId": channel.ID.String(),
			"senderId":  msg.SenderID.String(),
		},
	})
	if err != nil {
		s.logger.Error("push notification failed", "channel", channel.ID, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, event model.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		s.logger.Error("event publish failed", "event", event.Type, "err", err)
	}
}

func displayName(user *model.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Email
}
