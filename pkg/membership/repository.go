package membership

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/TrTueTah/ventidole-core/pkg/model"
)

// Repository is the relational source of truth for channels,
// participants, roles and read state.
type Repository struct {
	db     *bun.DB
	logger *slog.Logger
}

func NewRepository(db *bun.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// CreateChannel inserts the channel and all initial participant rows in
// one transaction, so the creator's admin row exists atomically with
// the channel itself.
func (r *Repository) CreateChannel(ctx context.Context, channel *model.Channel, participants []*model.Participant) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(channel).Returning("*").Exec(ctx); err != nil {
			return errors.Wrap(err, "membershipRepo.CreateChannel.InsertChannel")
		}
		for _, p := range participants {
			p.ChannelID = channel.ID
		}
		if _, err := tx.NewInsert().
			Model(&participants).
			On("CONFLICT (channel_id, user_id) DO NOTHING").
			Exec(ctx); err != nil {
			return errors.Wrap(err, "membershipRepo.CreateChannel.InsertParticipants")
		}
		return nil
	})
	return err
}

func (r *Repository) GetChannelByID(ctx context.Context, channelID uuid.UUID) (*model.Channel, error) {
	channel := new(model.Channel)
	err := r.db.NewSelect().
		Model(channel).
		Relation("Participants").
		Relation("Participants.User").
		Where("c.id = ? AND c.is_active = TRUE", channelID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "membershipRepo.GetChannelByID.Scan")
	}
	return channel, nil
}

// GetParticipant returns the row for (channel, user), or nil when the
// user has never been a participant. Callers decide whether an inactive
// row counts.
func (r *Repository) GetParticipant(ctx context.Context, channelID, userID uuid.UUID) (*model.Participant, error) {
	participant := new(model.Participant)
	err := r.db.NewSelect().
		Model(participant).
		Where("p.channel_id = ? AND p.user_id = ?", channelID, userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "membershipRepo.GetParticipant.Scan")
	}
	return participant, nil
}

// GetUserChannels returns the participant rows for a user, channel
// relation loaded, ordered by channel activity.
func (r *Repository) GetUserChannels(ctx context.Context, userID uuid.UUID) ([]*model.Participant, error) {
	var participants []*model.Participant
	err := r.db.NewSelect().
		Model(&participants).
		Relation("Channel").
		Relation("Channel.Participants").
		Relation("Channel.Participants.User").
		Where("p.user_id = ? AND p.is_active = TRUE", userID).
		OrderExpr("channel.last_message_at DESC NULLS LAST").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "membershipRepo.GetUserChannels.Scan")
	}
	return participants, nil
}

// GetActiveChannelIDs lists the channels a user should be subscribed to
// on connect.
func (r *Repository) GetActiveChannelIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*model.Participant)(nil)).
		Column("p.channel_id").
		Where("p.user_id = ? AND p.is_active = TRUE", userID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrap(err, "membershipRepo.GetActiveChannelIDs.Scan")
	}
	return ids, nil
}

// AddParticipants bulk-inserts member rows, skipping (channel, user)
// pairs that already exist. Returns the user ids actually inserted;
// RETURNING only reports rows the conflict clause did not skip.
func (r *Repository) AddParticipants(ctx context.Context, channelID uuid.UUID, userIDs []uuid.UUID, role model.ChatRole) ([]uuid.UUID, error) {
	now := time.Now()
	rows := make([]*model.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, &model.Participant{
			ChannelID: channelID,
			UserID:    id,
			Role:      role,
			IsActive:  true,
			JoinedAt:  now,
		})
	}
	var inserted []uuid.UUID
	err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (channel_id, user_id) DO NOTHING").
		Returning("user_id").
		Scan(ctx, &inserted)
	if err != nil {
		return nil, errors.Wrap(err, "membershipRepo.AddParticipants.Insert")
	}
	return inserted, nil
}

// IncrementUnread bumps the unread counter of every other active,
// non-muted participant in a single statement. The increment happens at
// the storage layer so concurrent senders never lose updates.
func (r *Repository) IncrementUnread(ctx context.Context, channelID, senderID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*model.Participant)(nil)).
		Set("unread_count = unread_count + 1").
		Where("channel_id = ? AND user_id <> ?", channelID, senderID).
		Where("is_active = TRUE AND is_muted = FALSE").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "membershipRepo.IncrementUnread.Update")
	}
	return nil
}

// MarkAsRead sets last-read to now and resets the unread counter.
func (r *Repository) MarkAsRead(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*model.Participant)(nil)).
		Set("last_read_at = ?", time.Now()).
		Set("unread_count = 0").
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "membershipRepo.MarkAsRead.Update")
	}
	return nil
}

// DeactivateParticipant marks the row inactive. History and the
// channel row stay untouched.
func (r *Repository) DeactivateParticipant(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*model.Participant)(nil)).
		Set("is_active = FALSE").
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "membershipRepo.DeactivateParticipant.Update")
	}
	return nil
}

// BumpChannelActivity records the accepted message on the channel row.
func (r *Repository) BumpChannelActivity(ctx context.Context, channelID uuid.UUID, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*model.Channel)(nil)).
		Set("last_message_at = ?", at).
		Set("updated_at = ?", at).
		Set("version = version + 1").
		Where("id = ?", channelID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "membershipRepo.BumpChannelActivity.Update")
	}
	return nil
}

func (r *Repository) GetUserByID(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	user := new(model.User)
	err := r.db.NewSelect().
		Model(user).
		Where("u.id = ? AND u.is_active = TRUE", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "membershipRepo.GetUserByID.Scan")
	}
	return user, nil
}

// SetUserOnline flips the persisted presence flag on the profile row.
func (r *Repository) SetUserOnline(ctx context.Context, userID uuid.UUID, online bool) error {
	_, err := r.db.NewUpdate().
		Model((*model.User)(nil)).
		Set("is_online = ?", online).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "membershipRepo.SetUserOnline.Update")
	}
	return nil
}

// GetNotifiableTokens returns device tokens of the active, non-muted
// participants of a channel other than the sender. Rows without a
// token are skipped.
func (r *Repository) GetNotifiableTokens(ctx context.Context, channelID, senderID uuid.UUID) (map[uuid.UUID]string, error) {
	var rows []struct {
		UserID      uuid.UUID `bun:"user_id"`
		DeviceToken string    `bun:"device_token"`
	}
	err := r.db.NewSelect().
		Model((*model.Participant)(nil)).
		ColumnExpr("p.user_id").
		ColumnExpr("u.device_token").
		Join("JOIN users AS u ON u.id = p.user_id").
		Where("p.channel_id = ? AND p.user_id <> ?", channelID, senderID).
		Where("p.is_active = TRUE AND p.is_muted = FALSE").
		Where("u.device_token IS NOT NULL AND u.device_token <> ''").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "membershipRepo.GetNotifiableTokens.Scan")
	}
	tokens := make(map[uuid.UUID]string, len(rows))
	for _, row := range rows {
		tokens[row.UserID] = row.DeviceToken
	}
	return tokens, nil
}
