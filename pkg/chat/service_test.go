package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
	"github.com/TrTueTah/ventidole-core/pkg/model"
	"github.com/TrTueTah/ventidole-core/pkg/notify"
	"github.com/TrTueTah/ventidole-core/pkg/snowflake"
)

// --- fakes ---

type fakeMembership struct {
	channels     map[uuid.UUID]*model.Channel
	participants map[uuid.UUID]map[uuid.UUID]*model.Participant
	users        map[uuid.UUID]*model.User
	channelErr   error
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		channels:     make(map[uuid.UUID]*model.Channel),
		participants: make(map[uuid.UUID]map[uuid.UUID]*model.Participant),
		users:        make(map[uuid.UUID]*model.User),
	}
}

func (f *fakeMembership) addUser(name string) uuid.UUID {
	id := uuid.New()
	f.users[id] = &model.User{ID: id, Email: name + "@example.com", DisplayName: name, IsActive: true}
	return id
}

func (f *fakeMembership) CreateChannel(_ context.Context, channel *model.Channel, participants []*model.Participant) error {
	f.channels[channel.ID] = channel
	rows := make(map[uuid.UUID]*model.Participant)
	for _, p := range participants {
		if _, ok := rows[p.UserID]; ok {
			continue
		}
		rows[p.UserID] = p
	}
	f.participants[channel.ID] = rows
	return nil
}

func (f *fakeMembership) GetChannelByID(_ context.Context, channelID uuid.UUID) (*model.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	channel, ok := f.channels[channelID]
	if !ok || !channel.IsActive {
		return nil, nil
	}
	return channel, nil
}

func (f *fakeMembership) GetParticipant(_ context.Context, channelID, userID uuid.UUID) (*model.Participant, error) {
	p, ok := f.participants[channelID][userID]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (f *fakeMembership) GetUserChannels(_ context.Context, userID uuid.UUID) ([]*model.Participant, error) {
	var result []*model.Participant
	for channelID, rows := range f.participants {
		if p, ok := rows[userID]; ok && p.IsActive {
			clone := *p
			clone.Channel = f.channels[channelID]
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		li, lj := result[i].Channel.LastMessageAt, result[j].Channel.LastMessageAt
		if li == nil {
			return false
		}
		if lj == nil {
			return true
		}
		return li.After(*lj)
	})
	return result, nil
}

func (f *fakeMembership) AddParticipants(_ context.Context, channelID uuid.UUID, userIDs []uuid.UUID, role model.ChatRole) ([]uuid.UUID, error) {
	rows := f.participants[channelID]
	var inserted []uuid.UUID
	for _, id := range userIDs {
		if _, ok := rows[id]; ok {
			continue
		}
		rows[id] = &model.Participant{ChannelID: channelID, UserID: id, Role: role, IsActive: true}
		inserted = append(inserted, id)
	}
	return inserted, nil
}

func (f *fakeMembership) IncrementUnread(_ context.Context, channelID, senderID uuid.UUID) error {
	for _, p := range f.participants[channelID] {
		if p.UserID == senderID || !p.IsActive || p.IsMuted {
			continue
		}
		p.UnreadCount++
	}
	return nil
}

func (f *fakeMembership) MarkAsRead(_ context.Context, channelID, userID uuid.UUID) error {
	if p, ok := f.participants[channelID][userID]; ok {
		now := time.Now()
		p.LastReadAt = &now
		p.UnreadCount = 0
	}
	return nil
}

func (f *fakeMembership) DeactivateParticipant(_ context.Context, channelID, userID uuid.UUID) error {
	if p, ok := f.participants[channelID][userID]; ok {
		p.IsActive = false
	}
	return nil
}

func (f *fakeMembership) BumpChannelActivity(_ context.Context, channelID uuid.UUID, at time.Time) error {
	if channel, ok := f.channels[channelID]; ok {
		channel.LastMessageAt = &at
		channel.Version++
	}
	return nil
}

func (f *fakeMembership) GetUserByID(_ context.Context, userID uuid.UUID) (*model.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	return user, nil
}

func (f *fakeMembership) GetNotifiableTokens(_ context.Context, channelID, senderID uuid.UUID) (map[uuid.UUID]string, error) {
	tokens := make(map[uuid.UUID]string)
	for _, p := range f.participants[channelID] {
		if p.UserID == senderID || !p.IsActive || p.IsMuted {
			continue
		}
		if user, ok := f.users[p.UserID]; ok && user.DeviceToken != "" {
			tokens[p.UserID] = user.DeviceToken
		}
	}
	return tokens, nil
}

type fakeMessages struct {
	byKey   map[string][]*model.Message // newest first
	replies map[string]map[int64]int64
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byKey:   make(map[string][]*model.Message),
		replies: make(map[string]map[int64]int64),
	}
}

func (f *fakeMessages) Insert(_ context.Context, msg *model.Message) error {
	clone := *msg
	f.byKey[msg.ChannelKey] = append([]*model.Message{&clone}, f.byKey[msg.ChannelKey]...)
	return nil
}

func (f *fakeMessages) Get(_ context.Context, channelKey string, id int64) (*model.Message, error) {
	for _, msg := range f.byKey[channelKey] {
		if msg.ID == id {
			clone := *msg
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) List(_ context.Context, channelKey string, limit int, beforeID int64) ([]*model.Message, int64, error) {
	var (
		result  []*model.Message
		scanned int
		lastID  int64
	)
	for _, msg := range f.byKey[channelKey] {
		if beforeID > 0 && msg.ID >= beforeID {
			continue
		}
		if scanned == limit {
			break
		}
		scanned++
		lastID = msg.ID
		if msg.IsDeleted {
			continue
		}
		clone := *msg
		result = append(result, &clone)
	}
	return result, lastID, nil
}

func (f *fakeMessages) UpdateContent(_ context.Context, channelKey string, id int64, content string, at time.Time) error {
	for _, msg := range f.byKey[channelKey] {
		if msg.ID == id {
			msg.Content = content
			msg.UpdatedAt = at
		}
	}
	return nil
}

func (f *fakeMessages) SoftDelete(_ context.Context, channelKey string, id int64, at time.Time) error {
	for _, msg := range f.byKey[channelKey] {
		if msg.ID == id {
			msg.IsDeleted = true
			msg.UpdatedAt = at
		}
	}
	return nil
}

func (f *fakeMessages) AddReader(_ context.Context, channelKey string, id int64, userID uuid.UUID) error {
	for _, msg := range f.byKey[channelKey] {
		if msg.ID != id {
			continue
		}
		for _, reader := range msg.ReadBy {
			if reader == userID.String() {
				return nil
			}
		}
		msg.ReadBy = append(msg.ReadBy, userID.String())
	}
	return nil
}

func (f *fakeMessages) IncrementReplies(_ context.Context, channelKey string, parentID int64) error {
	if f.replies[channelKey] == nil {
		f.replies[channelKey] = make(map[int64]int64)
	}
	f.replies[channelKey][parentID]++
	return nil
}

func (f *fakeMessages) DecrementReplies(_ context.Context, channelKey string, parentID int64) error {
	if f.replies[channelKey] == nil {
		f.replies[channelKey] = make(map[int64]int64)
	}
	f.replies[channelKey][parentID]--
	return nil
}

func (f *fakeMessages) ReplyCount(_ context.Context, channelKey string, parentID int64) (int64, error) {
	return f.replies[channelKey][parentID], nil
}

type fakeBus struct {
	events []model.Event
}

func (f *fakeBus) Publish(_ context.Context, event model.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeBus) ofType(t model.EventType) []model.Event {
	var result []model.Event
	for _, e := range f.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

type fakePresence struct {
	online map[uuid.UUID]bool
}

func (f *fakePresence) IsOnline(userID uuid.UUID) bool { return f.online[userID] }

type fakeNotifier struct {
	payloads []notify.Payload
}

func (f *fakeNotifier) Send(_ context.Context, payload notify.Payload) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

// --- harness ---

type harness struct {
	membership *fakeMembership
	messages   *fakeMessages
	bus        *fakeBus
	presence   *fakePresence
	notifier   *fakeNotifier
	service    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)

	h := &harness{
		membership: newFakeMembership(),
		messages:   newFakeMessages(),
		bus:        &fakeBus{},
		presence:   &fakePresence{online: make(map[uuid.UUID]bool)},
		notifier:   &fakeNotifier{},
	}
	h.service = NewService(h.membership, h.messages, ids, h.bus, h.presence, h.notifier, slog.Default())
	return h
}

func (h *harness) createGroupChannel(t *testing.T, creator uuid.UUID, members ...uuid.UUID) *model.Channel {
	t.Helper()
	groupID := uuid.New()
	channel, err := h.service.CreateChannel(context.Background(), CreateChannelRequest{
		Name:           "test group",
		Type:           model.ChannelGroup,
		GroupID:        &groupID,
		ParticipantIDs: members,
	}, creator)
	require.NoError(t, err)
	return channel
}

// --- tests ---

func TestCreateChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("creator becomes admin atomically", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		member := h.membership.addUser("bob")

		channel := h.createGroupChannel(t, creator, member)

		p, err := h.membership.GetParticipant(ctx, channel.ID, creator)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, model.RoleAdmin, p.Role)
		assert.True(t, p.IsActive)

		m, err := h.membership.GetParticipant(ctx, channel.ID, member)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, model.RoleMember, m.Role)
	})

	t.Run("group channel requires group id", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")

		_, err := h.service.CreateChannel(ctx, CreateChannelRequest{Type: model.ChannelGroup}, creator)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("announcement channel requires owner id", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")

		_, err := h.service.CreateChannel(ctx, CreateChannelRequest{Type: model.ChannelAnnouncement}, creator)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("announcement channel rejects non-owner requester", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		other := h.membership.addUser("idol")

		_, err := h.service.CreateChannel(ctx, CreateChannelRequest{
			Type:    model.ChannelAnnouncement,
			OwnerID: &other,
		}, creator)
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	})

	t.Run("added participants receive new_channel event", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		b := h.membership.addUser("bob")
		c := h.membership.addUser("carol")

		h.createGroupChannel(t, creator, b, c)

		events := h.bus.ofType(model.EventNewChannel)
		require.Len(t, events, 2)
		targets := []string{events[0].TargetUserID, events[1].TargetUserID}
		assert.ElementsMatch(t, []string{b.String(), c.String()}, targets)
	})

	t.Run("duplicate participant ids are skipped", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		b := h.membership.addUser("bob")

		channel := h.createGroupChannel(t, creator, b, b, creator)
		assert.Len(t, h.membership.participants[channel.ID], 2)
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-participant", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		stranger := h.membership.addUser("mallory")
		channel := h.createGroupChannel(t, creator)

		_, err := h.service.SendMessage(ctx, stranger, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	})

	t.Run("rejects empty content", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		channel := h.createGroupChannel(t, creator)

		_, err := h.service.SendMessage(ctx, creator, SendMessageRequest{ChannelID: channel.ID})
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("announcement channel only accepts admin senders", func(t *testing.T) {
		h := newHarness(t)
		owner := h.membership.addUser("idol")
		fan := h.membership.addUser("fan")

		channel, err := h.service.CreateChannel(ctx, CreateChannelRequest{
			Type:           model.ChannelAnnouncement,
			OwnerID:        &owner,
			ParticipantIDs: []uuid.UUID{fan},
		}, owner)
		require.NoError(t, err)

		_, err = h.service.SendMessage(ctx, fan, SendMessageRequest{ChannelID: channel.ID, Content: "hello"})
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))

		msg, err := h.service.SendMessage(ctx, owner, SendMessageRequest{ChannelID: channel.ID, Content: "announcement"})
		require.NoError(t, err)
		assert.Equal(t, "announcement", msg.Content)
		assert.Len(t, h.bus.ofType(model.EventNewMessage), 1)
	})

	t.Run("sender starts in readers set and fresh display fields are used", func(t *testing.T) {
		h := newHarness(t)
		creator := h.membership.addUser("alice")
		channel := h.createGroupChannel(t, creator)

		msg, err := h.service.SendMessage(ctx, creator, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, []string{creator.String()}, msg.ReadBy)
		assert.Equal(t, "alice", msg.SenderName)
	})

	t.Run("unread counters and read reset", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		c := h.membership.addUser("c")
		channel := h.createGroupChannel(t, a, b, c)

		events := h.bus.ofType(model.EventNewChannel)
		assert.Len(t, events, 2)

		_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hello"})
		require.NoError(t, err)

		assert.EqualValues(t, 0, h.membership.participants[channel.ID][a].UnreadCount)
		assert.EqualValues(t, 1, h.membership.participants[channel.ID][b].UnreadCount)
		assert.EqualValues(t, 1, h.membership.participants[channel.ID][c].UnreadCount)

		require.NoError(t, h.service.MarkAsRead(ctx, channel.ID, b))
		assert.EqualValues(t, 0, h.membership.participants[channel.ID][b].UnreadCount)
		assert.EqualValues(t, 1, h.membership.participants[channel.ID][c].UnreadCount)
	})

	t.Run("muted participants are not counted or notified", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		channel := h.createGroupChannel(t, a, b)
		h.membership.participants[channel.ID][b].IsMuted = true

		_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hello"})
		require.NoError(t, err)
		assert.EqualValues(t, 0, h.membership.participants[channel.ID][b].UnreadCount)
		assert.Empty(t, h.notifier.payloads)
	})

	t.Run("channel activity is bumped", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)
		before := channel.Version

		_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hello"})
		require.NoError(t, err)
		assert.NotNil(t, h.membership.channels[channel.ID].LastMessageAt)
		assert.Greater(t, h.membership.channels[channel.ID].Version, before)
	})

	t.Run("push goes to offline participants with tokens only", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		c := h.membership.addUser("c")
		channel := h.createGroupChannel(t, a, b, c)

		h.membership.users[b].DeviceToken = "token-b"
		h.membership.users[c].DeviceToken = "token-c"
		h.presence.online[c] = true

		_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hello"})
		require.NoError(t, err)

		require.Len(t, h.notifier.payloads, 1)
		assert.Equal(t, []string{"token-b"}, h.notifier.payloads[0].Tokens)
		assert.Equal(t, "a", h.notifier.payloads[0].Title)
		assert.Equal(t, "hello", h.notifier.payloads[0].Body)
	})
}

func TestGetMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("requires active participant when requester is supplied", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		stranger := h.membership.addUser("s")
		channel := h.createGroupChannel(t, a)

		_, err := h.service.GetMessages(ctx, channel.ID, 10, "", &stranger)
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))

		_, err = h.service.GetMessages(ctx, channel.ID, 10, "", nil)
		assert.NoError(t, err)
	})

	t.Run("pages newest-first without repeats or gaps", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		for i := 0; i < 25; i++ {
			_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "m"})
			require.NoError(t, err)
		}

		seen := make(map[int64]bool)
		cursor := ""
		total := 0
		for {
			page, err := h.service.GetMessages(ctx, channel.ID, 10, cursor, &a)
			require.NoError(t, err)
			if len(page.Messages) == 0 {
				break
			}
			prev := int64(0)
			for _, msg := range page.Messages {
				assert.False(t, seen[msg.ID], "message repeated across pages")
				seen[msg.ID] = true
				if prev != 0 {
					assert.Less(t, msg.ID, prev, "order must be strictly descending")
				}
				prev = msg.ID
			}
			total += len(page.Messages)
			cursor = page.NextCursor
		}
		assert.Equal(t, 25, total)
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		_, err := h.service.GetMessages(ctx, channel.ID, 10, "!!!not-a-cursor", &a)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("pages carry reply counts from the counter table", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		parent, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "parent"})
		require.NoError(t, err)
		_, err = h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "reply", ReplyTo: parent.ID})
		require.NoError(t, err)

		page, err := h.service.GetMessages(ctx, channel.ID, 10, "", &a)
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		for _, msg := range page.Messages {
			if msg.ID == parent.ID {
				assert.EqualValues(t, 1, msg.ReplyCount)
			} else {
				assert.EqualValues(t, 0, msg.ReplyCount)
			}
		}
	})

	t.Run("refreshes sender display fields from the profile source", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		require.NoError(t, err)

		h.membership.users[a].DisplayName = "renamed"

		page, err := h.service.GetMessages(ctx, channel.ID, 10, "", &a)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "renamed", page.Messages[0].SenderName)
	})
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("only the sender may update or delete", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		channel := h.createGroupChannel(t, a, b)

		msg, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		require.NoError(t, err)

		_, err = h.service.UpdateMessage(ctx, b, channel.ID, msg.ID, "hacked")
		assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

		err = h.service.DeleteMessage(ctx, b, channel.ID, msg.ID)
		assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
	})

	t.Run("deleted is terminal", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		msg, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		require.NoError(t, err)

		require.NoError(t, h.service.DeleteMessage(ctx, a, channel.ID, msg.ID))

		err = h.service.DeleteMessage(ctx, a, channel.ID, msg.ID)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

		_, err = h.service.UpdateMessage(ctx, a, channel.ID, msg.ID, "edited")
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	})

	t.Run("soft-deleted messages vanish from listings but stay fetchable", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		msg, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		require.NoError(t, err)
		require.NoError(t, h.service.DeleteMessage(ctx, a, channel.ID, msg.ID))

		page, err := h.service.GetMessages(ctx, channel.ID, 10, "", &a)
		require.NoError(t, err)
		assert.Empty(t, page.Messages)

		stored, err := h.messages.Get(ctx, channel.MessageKey, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.True(t, stored.IsDeleted)
	})

	t.Run("reply counters follow reply lifecycle", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		parent, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "parent"})
		require.NoError(t, err)

		reply, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "reply", ReplyTo: parent.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 1, h.messages.replies[channel.MessageKey][parent.ID])

		require.NoError(t, h.service.DeleteMessage(ctx, a, channel.ID, reply.ID))
		assert.EqualValues(t, 0, h.messages.replies[channel.MessageKey][parent.ID])
	})

	t.Run("update and delete broadcast events", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		channel := h.createGroupChannel(t, a)

		msg, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
		require.NoError(t, err)

		updated, err := h.service.UpdateMessage(ctx, a, channel.ID, msg.ID, "edited")
		require.NoError(t, err)
		assert.Equal(t, "edited", updated.Content)
		assert.Len(t, h.bus.ofType(model.EventMessageUpdated), 1)

		require.NoError(t, h.service.DeleteMessage(ctx, a, channel.ID, msg.ID))
		assert.Len(t, h.bus.ofType(model.EventMessageDeleted), 1)
	})
}

func TestAddParticipants(t *testing.T) {
	ctx := context.Background()

	t.Run("requires admin role", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		c := h.membership.addUser("c")
		channel := h.createGroupChannel(t, a, b)

		_, err := h.service.AddParticipants(ctx, b, AddParticipantsRequest{ChannelID: channel.ID, UserIDs: []uuid.UUID{c}})
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	})

	t.Run("is idempotent and returns the inserted count", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		c := h.membership.addUser("c")
		channel := h.createGroupChannel(t, a, b)

		result, err := h.service.AddParticipants(ctx, a, AddParticipantsRequest{ChannelID: channel.ID, UserIDs: []uuid.UUID{b, c}})
		require.NoError(t, err)
		assert.EqualValues(t, 1, result.Added)
	})

	t.Run("notifies only newly inserted users", func(t *testing.T) {
		h := newHarness(t)
		a := h.membership.addUser("a")
		b := h.membership.addUser("b")
		c := h.membership.addUser("c")
		channel := h.createGroupChannel(t, a, b)

		// Channel creation already notified b.
		require.Len(t, h.bus.ofType(model.EventNewChannel), 1)

		_, err := h.service.AddParticipants(ctx, a, AddParticipantsRequest{ChannelID: channel.ID, UserIDs: []uuid.UUID{b, c}})
		require.NoError(t, err)

		events := h.bus.ofType(model.EventNewChannel)
		require.Len(t, events, 2)
		assert.Equal(t, c.String(), events[1].TargetUserID)
	})
}

func TestLeaveChannel(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	a := h.membership.addUser("a")
	b := h.membership.addUser("b")
	channel := h.createGroupChannel(t, a, b)

	require.NoError(t, h.service.LeaveChannel(ctx, channel.ID, b))
	assert.False(t, h.membership.participants[channel.ID][b].IsActive)

	// Inactive participants can no longer send.
	_, err := h.service.SendMessage(ctx, b, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))

	// The row itself and the channel survive.
	p, err := h.membership.GetParticipant(ctx, channel.ID, b)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.NotNil(t, h.membership.channels[channel.ID])
}

func TestMarkMessageReadStoreFailure(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	a := h.membership.addUser("a")
	b := h.membership.addUser("b")
	channel := h.createGroupChannel(t, a, b)

	msg, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
	require.NoError(t, err)

	// A failed channel load is an internal error, not a missing channel.
	h.membership.channelErr = errors.New("db down")
	err = h.service.MarkMessageRead(ctx, channel.ID, b, msg.ID)
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
}

func TestMarkMessageRead(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	a := h.membership.addUser("a")
	b := h.membership.addUser("b")
	channel := h.createGroupChannel(t, a, b)

	msg, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: channel.ID, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, h.service.MarkMessageRead(ctx, channel.ID, b, msg.ID))
	// Idempotent: a second read does not duplicate the reader.
	require.NoError(t, h.service.MarkMessageRead(ctx, channel.ID, b, msg.ID))

	stored, err := h.messages.Get(ctx, channel.MessageKey, msg.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.String(), b.String()}, stored.ReadBy)

	receipts := h.bus.ofType(model.EventMessageReadReceipt)
	assert.Len(t, receipts, 2)
}

func TestGetMyChannels(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	a := h.membership.addUser("a")
	b := h.membership.addUser("b")
	first := h.createGroupChannel(t, a, b)
	second := h.createGroupChannel(t, a, b)

	_, err := h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: first.ID, Content: "older"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.service.SendMessage(ctx, a, SendMessageRequest{ChannelID: second.ID, Content: "newer"})
	require.NoError(t, err)

	views, err := h.service.GetMyChannels(ctx, b)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.EqualValues(t, 1, views[0].UnreadCount)
	assert.EqualValues(t, 1, views[1].UnreadCount)
}
