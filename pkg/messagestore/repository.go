package messagestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/TrTueTah/ventidole-core/pkg/db"
	"github.com/TrTueTah/ventidole-core/pkg/model"
)

// Repository is the append-only document store for message bodies.
// Messages are partitioned by the channel's message key and clustered
// by id descending, so a plain partition scan is already newest-first.
type Repository struct {
	session *db.Session
	logger  *slog.Logger
}

func NewRepository(session *db.Session, logger *slog.Logger) *Repository {
	return &Repository{session: session, logger: logger}
}

const insertMessageCQL = `INSERT INTO chat_messages
	(channel_key, id, channel_id, sender_id, kind, content, media_url, thumbnail_url, metadata, reply_to, created_at, updated_at, is_deleted, read_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *Repository) Insert(ctx context.Context, msg *model.Message) error {
	err := r.session.Query(insertMessageCQL,
		msg.ChannelKey, msg.ID, msg.ChannelID.String(), msg.SenderID.String(),
		string(msg.Kind), msg.Content, msg.MediaURL, msg.ThumbnailURL,
		msg.Metadata, msg.ReplyTo, msg.CreatedAt, msg.UpdatedAt,
		msg.IsDeleted, msg.ReadBy,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "messageRepo.Insert.Exec")
	}
	return nil
}

const selectMessageCQL = `SELECT channel_key, id, channel_id, sender_id, kind, content, media_url, thumbnail_url, metadata, reply_to, created_at, updated_at, is_deleted, read_by
	FROM chat_messages WHERE channel_key = ?`

// Get fetches one message by id, soft-deleted rows included. Callers
// on user-facing paths must check IsDeleted themselves; internal
// integrity checks rely on deleted rows staying fetchable.
func (r *Repository) Get(ctx context.Context, channelKey string, id int64) (*model.Message, error) {
	msg, err := scanMessage(r.session.Query(selectMessageCQL+` AND id = ?`, channelKey, id).WithContext(ctx).Iter())
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.Get.Scan")
	}
	return msg, nil
}

// List returns up to limit non-deleted messages newest-first, starting
// strictly below beforeID when it is non-zero. The returned cursor id
// is the last row scanned, deleted or not, so paging never skips.
func (r *Repository) List(ctx context.Context, channelKey string, limit int, beforeID int64) ([]*model.Message, int64, error) {
	var iter *gocql.Iter
	if beforeID > 0 {
		iter = r.session.Query(selectMessageCQL+` AND id < ? LIMIT ?`, channelKey, beforeID, limit).WithContext(ctx).Iter()
	} else {
		iter = r.session.Query(selectMessageCQL+` LIMIT ?`, channelKey, limit).WithContext(ctx).Iter()
	}

	var (
		messages []*model.Message
		lastID   int64
	)
	for {
		msg, ok := nextMessage(iter)
		if !ok {
			break
		}
		lastID = msg.ID
		if msg.IsDeleted {
			continue
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, 0, errors.Wrap(err, "messageRepo.List.Iter")
	}
	return messages, lastID, nil
}

// UpdateContent edits a message in place.
func (r *Repository) UpdateContent(ctx context.Context, channelKey string, id int64, content string, at time.Time) error {
	err := r.session.Query(
		`UPDATE chat_messages SET content = ?, updated_at = ? WHERE channel_key = ? AND id = ?`,
		content, at, channelKey, id,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "messageRepo.UpdateContent.Exec")
	}
	return nil
}

// SoftDelete flags the message. The row is never physically removed.
func (r *Repository) SoftDelete(ctx context.Context, channelKey string, id int64, at time.Time) error {
	err := r.session.Query(
		`UPDATE chat_messages SET is_deleted = true, updated_at = ? WHERE channel_key = ? AND id = ?`,
		at, channelKey, id,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "messageRepo.SoftDelete.Exec")
	}
	return nil
}

// AddReader appends a user to the readers set. Set addition is
// idempotent and monotonic, which is exactly the read-receipt contract.
func (r *Repository) AddReader(ctx context.Context, channelKey string, id int64, userID uuid.UUID) error {
	err := r.session.Query(
		`UPDATE chat_messages SET read_by = read_by + ? WHERE channel_key = ? AND id = ?`,
		[]string{userID.String()}, channelKey, id,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "messageRepo.AddReader.Exec")
	}
	return nil
}

// Reply counters live in a dedicated counter table so increments stay
// atomic under concurrent senders.

func (r *Repository) IncrementReplies(ctx context.Context, channelKey string, parentID int64) error {
	err := r.session.Query(
		`UPDATE message_counters SET reply_count = reply_count + 1 WHERE channel_key = ? AND message_id = ?`,
		channelKey, parentID,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "messageRepo.IncrementReplies.Exec")
	}
	return nil
}

func (r *Repository) DecrementReplies(ctx context.Context, channelKey string, parentID int64) error {
	err := r.session.Query(
		`UPDATE message_counters SET reply_count = reply_count - 1 WHERE channel_key = ? AND message_id = ?`,
		channelKey, parentID,
	).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrap(err, "messageRepo.DecrementReplies.Exec")
	}
	return nil
}

func (r *Repository) ReplyCount(ctx context.Context, channelKey string, parentID int64) (int64, error) {
	var count int64
	err := r.session.Query(
		`SELECT reply_count FROM message_counters WHERE channel_key = ? AND message_id = ?`,
		channelKey, parentID,
	).WithContext(ctx).Scan(&count)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "messageRepo.ReplyCount.Scan")
	}
	return count, nil
}

func scanMessage(iter *gocql.Iter) (*model.Message, error) {
	msg, ok := nextMessage(iter)
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return msg, nil
}

func nextMessage(iter *gocql.Iter) (*model.Message, bool) {
	var (
		msg               model.Message
		channelID, sender string
		kind              string
	)
	ok := iter.Scan(
		&msg.ChannelKey, &msg.ID, &channelID, &sender, &kind,
		&msg.Content, &msg.MediaURL, &msg.ThumbnailURL, &msg.Metadata,
		&msg.ReplyTo, &msg.CreatedAt, &msg.UpdatedAt, &msg.IsDeleted, &msg.ReadBy,
	)
	if !ok {
		return nil, false
	}
	msg.ChannelID, _ = uuid.Parse(channelID)
	msg.SenderID, _ = uuid.Parse(sender)
	msg.Kind = model.MessageKind(kind)
	return &msg, true
}
