package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"sidehustle-chat/internal/db"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database.Conn, dialect: database.Dialect}
}

const conversationColumns = `id, user_a_id, user_b_id, created_at, last_message_id, last_message_preview,
	last_message_at, last_seq, sort_key, unread_a, unread_b, archived_a, archived_b,
	last_read_seq_a, last_read_seq_b, last_read_at_a, last_read_at_b, version`

const messageColumns = `id, conversation_id, seq, sender_id, recipient_id, content, media_ref, reply_to_id,
	created_at, edited_at, is_read, read_at, deleted_at, deleted_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	c := &Conversation{}
	var (
		lastID                   sql.NullString
		lastAt, readAtA, readAtB sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserAID, &c.UserBID, &c.CreatedAt, &lastID, &c.LastMessagePreview,
		&lastAt, &c.LastSeq, &c.sortKey, &c.UnreadA, &c.UnreadB, &c.ArchivedA, &c.ArchivedB,
		&c.LastReadSeqA, &c.LastReadSeqB, &readAtA, &readAtB, &c.Version)
	if err != nil {
		return nil, err
	}
	c.LastMessageID = lastID.String
	c.LastMessageAt = timePtr(lastAt)
	c.LastReadAtA = timePtr(readAtA)
	c.LastReadAtB = timePtr(readAtB)
	return c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var (
		mediaRef, replyTo, deletedBy sql.NullString
		editedAt, readAt, deletedAt  sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.RecipientID, &m.Content,
		&mediaRef, &replyTo, &m.CreatedAt, &editedAt, &m.IsRead, &readAt, &deletedAt, &deletedBy)
	if err != nil {
		return nil, err
	}
	m.MediaRef = stringPtr(mediaRef)
	m.ReplyToID = stringPtr(replyTo)
	m.DeletedBy = stringPtr(deletedBy)
	m.EditedAt = timePtr(editedAt)
	m.ReadAt = timePtr(readAt)
	m.DeletedAt = timePtr(deletedAt)
	return m, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// ---------------------------------------------
// Conversations
// ---------------------------------------------

func (r *Repository) FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_a_id = $1 AND user_b_id = $2`
	c, err := scanConversation(r.db.QueryRowContext(ctx, query, userA, userB))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.FindConversationByPair.Scan: ")
	}
	return c, nil
}

// CreateConversation inserts a new pair. A concurrent creator of the same pair
// makes this fail with a unique violation (see db.IsUniqueViolation).
func (r *Repository) CreateConversation(ctx context.Context, c *Conversation) error {
	c.sortKey = c.CreatedAt.UnixNano()
	query := `INSERT INTO conversations (id, user_a_id, user_b_id, created_at, sort_key) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.UserAID, c.UserBID, c.CreatedAt, c.sortKey)
	if err != nil {
		return errors.Wrap(err, "chatRepo.CreateConversation.Insert: ")
	}
	return nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return r.getConversation(ctx, r.db, id, false)
}

func (r *Repository) getConversation(ctx context.Context, q querier, id string, forUpdate bool) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	if forUpdate {
		query += r.dialect.LockClause()
	}
	c, err := scanConversation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.getConversation.Scan: ")
	}
	return c, nil
}

// conversationCursor is the position after the last row of a conversation page.
type conversationCursor struct {
	SortKey int64
	ID      string
}

// ListConversations returns up to limit conversations of userID, most recent
// activity first.
func (r *Repository) ListConversations(ctx context.Context, userID string, filter ArchiveFilter, after *conversationCursor, limit int) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE (user_a_id = $1 OR user_b_id = $1)`
	args := []any{userID}

	switch filter {
	case ArchiveArchived, ArchiveActive, "":
		args = append(args, filter == ArchiveArchived)
		query += fmt.Sprintf(` AND ((user_a_id = $1 AND archived_a = $%d) OR (user_b_id = $1 AND archived_b = $%d))`, len(args), len(args))
	case ArchiveAll:
	}

	if after != nil {
		args = append(args, after.SortKey)
		keyArg := len(args)
		args = append(args, after.ID)
		query += fmt.Sprintf(` AND (sort_key < $%d OR (sort_key = $%d AND id < $%d))`, keyArg, keyArg, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY sort_key DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversations.Query: ")
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "chatRepo.ListConversations.Scan: ")
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversations.Rows: ")
	}
	return convs, nil
}

func (r *Repository) SetArchived(ctx context.Context, conversationID, userID string, archived bool) (*Conversation, error) {
	var result *Conversation
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		c, err := r.getConversation(ctx, tx, conversationID, true)
		if err != nil {
			return err
		}
		if !c.HasParticipant(userID) {
			return ErrNotParticipant
		}
		result = c
		if c.ArchivedFor(userID) == archived {
			return nil
		}

		// Archive is one participant's view state: no event, so no version bump.
		query := fmt.Sprintf(`UPDATE conversations SET archived_%s = $1 WHERE id = $2`, side(c, userID))
		if _, err := tx.ExecContext(ctx, query, archived, c.ID); err != nil {
			return errors.Wrap(err, "chatRepo.SetArchived.Update: ")
		}
		if userID == c.UserAID {
			c.ArchivedA = archived
		} else {
			c.ArchivedB = archived
		}
		return nil
	})
	return result, err
}

// TotalUnread sums userID's unread counters over non-archived conversations.
func (r *Repository) TotalUnread(ctx context.Context, userID string) (int, error) {
	query := `SELECT COALESCE(SUM(CASE WHEN user_a_id = $1 THEN unread_a ELSE unread_b END), 0)
		FROM conversations
		WHERE (user_a_id = $1 AND archived_a = FALSE) OR (user_b_id = $1 AND archived_b = FALSE)`
	var total int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "chatRepo.TotalUnread.Scan: ")
	}
	return int(total), nil
}

// side returns the column suffix ("a" or "b") belonging to userID.
func side(c *Conversation, userID string) string {
	if userID == c.UserAID {
		return "a"
	}
	return "b"
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

func (r *Repository) GetMessage(ctx context.Context, id string) (*Message, error) {
	return r.getMessage(ctx, r.db, id)
}

func (r *Repository) getMessage(ctx context.Context, q querier, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.getMessage.Scan: ")
	}
	return m, nil
}

// AppendMessage stores msg as the next entry of its conversation and, in the
// same transaction, moves the preview, bumps the recipient's unread counter and
// the conversation version. msg.ID must be set by the caller; replaying an id
// that is already stored returns the stored message unchanged.
func (r *Repository) AppendMessage(ctx context.Context, msg *Message) (*Message, *Conversation, error) {
	var (
		stored *Message
		conv   *Conversation
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		c, err := r.getConversation(ctx, tx, msg.ConversationID, true)
		if err != nil {
			return err
		}
		if !c.HasParticipant(msg.SenderID) {
			return ErrNotParticipant
		}
		conv = c

		existing, err := r.getMessage(ctx, tx, msg.ID)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return err
		}

		if msg.ReplyToID != nil {
			target, err := r.getMessage(ctx, tx, *msg.ReplyToID)
			if errors.Is(err, ErrMessageNotFound) {
				return ErrInvalidReplyTarget
			}
			if err != nil {
				return err
			}
			if target.ConversationID != c.ID || target.IsDeleted() {
				return ErrInvalidReplyTarget
			}
		}

		m := *msg
		m.Seq = c.LastSeq + 1
		m.RecipientID = c.Other(m.SenderID)
		// Node clocks disagree; a higher seq never gets an earlier timestamp.
		floor := c.CreatedAt
		if c.LastMessageAt != nil && c.LastMessageAt.After(floor) {
			floor = *c.LastMessageAt
		}
		if m.CreatedAt.Before(floor) {
			m.CreatedAt = floor
		}

		insert := `INSERT INTO messages (id, conversation_id, seq, sender_id, recipient_id, content, media_ref, reply_to_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.ExecContext(ctx, insert, m.ID, m.ConversationID, m.Seq, m.SenderID, m.RecipientID,
			m.Content, m.MediaRef, m.ReplyToID, m.CreatedAt); err != nil {
			return errors.Wrap(err, "chatRepo.AppendMessage.Insert: ")
		}

		incA, incB := 0, 0
		if m.RecipientID == c.UserAID {
			incA = 1
		} else {
			incB = 1
		}
		pv := preview(m.Content, m.hasMedia())
		update := `UPDATE conversations
			SET last_message_id = $1, last_message_preview = $2, last_message_at = $3, last_seq = $4, sort_key = $5,
				unread_a = unread_a + $6, unread_b = unread_b + $7, version = version + 1
			WHERE id = $8`
		if _, err := tx.ExecContext(ctx, update, m.ID, pv, m.CreatedAt, m.Seq, m.CreatedAt.UnixNano(),
			incA, incB, c.ID); err != nil {
			return errors.Wrap(err, "chatRepo.AppendMessage.UpdateConversation: ")
		}

		c.LastMessageID = m.ID
		c.LastMessagePreview = pv
		at := m.CreatedAt
		c.LastMessageAt = &at
		c.LastSeq = m.Seq
		c.sortKey = m.CreatedAt.UnixNano()
		c.UnreadA += incA
		c.UnreadB += incB
		c.Version++
		stored = &m
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return stored, conv, nil
}

// EditMessage replaces the content of a live message. Only its sender may edit.
func (r *Repository) EditMessage(ctx context.Context, messageID, editorID, content string, at time.Time) (*Message, *Conversation, error) {
	var (
		msg  *Message
		conv *Conversation
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		m, c, err := r.lockMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if m.IsDeleted() {
			return ErrMessageNotFound
		}
		if m.SenderID != editorID {
			return ErrForbidden
		}
		if content == "" && !m.hasMedia() {
			return ErrEmptyMessage
		}

		if _, err := tx.ExecContext(ctx, `UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3`,
			content, at, m.ID); err != nil {
			return errors.Wrap(err, "chatRepo.EditMessage.Update: ")
		}

		pv := preview(content, m.hasMedia())
		update := `UPDATE conversations
			SET last_message_preview = CASE WHEN last_message_id = $1 THEN $2 ELSE last_message_preview END,
				version = version + 1
			WHERE id = $3`
		if _, err := tx.ExecContext(ctx, update, m.ID, pv, c.ID); err != nil {
			return errors.Wrap(err, "chatRepo.EditMessage.UpdateConversation: ")
		}

		m.Content = content
		m.EditedAt = &at
		if c.LastMessageID == m.ID {
			c.LastMessagePreview = pv
		}
		c.Version++
		msg, conv = m, c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

// SoftDeleteMessage turns a message into a tombstone and recomputes everything
// derived from the live messages: the preview and both unread counters.
// changed is false when the message was already deleted.
func (r *Repository) SoftDeleteMessage(ctx context.Context, messageID, deleterID string, at time.Time) (msg *Message, conv *Conversation, changed bool, err error) {
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		m, c, err := r.lockMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		msg, conv = m, c
		if m.IsDeleted() {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET content = '', media_ref = NULL, deleted_at = $1, deleted_by = $2 WHERE id = $3`,
			at, deleterID, m.ID); err != nil {
			return errors.Wrap(err, "chatRepo.SoftDeleteMessage.Update: ")
		}

		latest, err := r.latestLiveMessage(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		unreadA, err := r.countUnread(ctx, tx, c.ID, c.UserAID, c.LastReadSeqA)
		if err != nil {
			return err
		}
		unreadB, err := r.countUnread(ctx, tx, c.ID, c.UserBID, c.LastReadSeqB)
		if err != nil {
			return err
		}

		var (
			lastID *string
			lastAt *time.Time
			pv     string
		)
		sortKey := c.CreatedAt.UnixNano()
		if latest != nil {
			lastID = &latest.ID
			created := latest.CreatedAt
			lastAt = &created
			pv = preview(latest.Content, latest.hasMedia())
			sortKey = latest.CreatedAt.UnixNano()
		}

		update := `UPDATE conversations
			SET last_message_id = $1, last_message_preview = $2, last_message_at = $3, sort_key = $4,
				unread_a = $5, unread_b = $6, version = version + 1
			WHERE id = $7`
		if _, err := tx.ExecContext(ctx, update, lastID, pv, lastAt, sortKey, unreadA, unreadB, c.ID); err != nil {
			return errors.Wrap(err, "chatRepo.SoftDeleteMessage.UpdateConversation: ")
		}

		m.Content = ""
		m.MediaRef = nil
		m.DeletedAt = &at
		m.DeletedBy = &deleterID

		c.LastMessageID = ""
		if lastID != nil {
			c.LastMessageID = *lastID
		}
		c.LastMessagePreview = pv
		c.LastMessageAt = lastAt
		c.sortKey = sortKey
		c.UnreadA, c.UnreadB = unreadA, unreadB
		c.Version++
		changed = true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return msg, conv, changed, nil
}

// lockMessage locks the conversation owning messageID and re-reads the message
// under that lock.
func (r *Repository) lockMessage(ctx context.Context, tx *sql.Tx, messageID string) (*Message, *Conversation, error) {
	var conversationID string
	err := tx.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = $1`, messageID).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "chatRepo.lockMessage.Scan: ")
	}
	c, err := r.getConversation(ctx, tx, conversationID, true)
	if err != nil {
		return nil, nil, err
	}
	m, err := r.getMessage(ctx, tx, messageID)
	if err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

func (r *Repository) latestLiveMessage(ctx context.Context, q querier, conversationID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1 AND deleted_at IS NULL
		ORDER BY seq DESC LIMIT 1`
	m, err := scanMessage(q.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.latestLiveMessage.Scan: ")
	}
	return m, nil
}

// countUnread counts live messages userID received after its watermark.
func (r *Repository) countUnread(ctx context.Context, q querier, conversationID, userID string, afterSeq int64) (int, error) {
	query := `SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND deleted_at IS NULL AND seq > $3`
	var n int64
	if err := q.QueryRowContext(ctx, query, conversationID, userID, afterSeq).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "chatRepo.countUnread.Scan: ")
	}
	return int(n), nil
}

// ListMessages returns up to limit messages with seq > afterSeq, ascending.
func (r *Repository) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int, includeDeleted bool) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND seq > $2`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY seq ASC LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, conversationID, afterSeq, limit)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListMessages.Query: ")
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "chatRepo.ListMessages.Scan: ")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListMessages.Rows: ")
	}
	return msgs, nil
}

// ---------------------------------------------
// Read state
// ---------------------------------------------

// ReadResult reports the reader's state after MarkRead.
type ReadResult struct {
	Conversation *Conversation
	Watermark    int64
	Unread       int
	Changed      bool
}

// MarkRead advances readerID's watermark to the seq of throughMessageID, or to
// the newest message when throughMessageID is empty. The watermark never moves
// backwards. The unread counter is recomputed under the row lock.
func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID, throughMessageID string, at time.Time) (*ReadResult, error) {
	var result *ReadResult
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		c, err := r.getConversation(ctx, tx, conversationID, true)
		if err != nil {
			return err
		}
		if !c.HasParticipant(readerID) {
			return ErrNotParticipant
		}

		watermark := c.LastSeq
		if throughMessageID != "" {
			m, err := r.getMessage(ctx, tx, throughMessageID)
			if err != nil {
				return err
			}
			if m.ConversationID != c.ID {
				return ErrMessageNotFound
			}
			watermark = m.Seq
		}
		prev := c.LastReadSeqFor(readerID)
		if watermark < prev {
			watermark = prev
		}

		unread, err := r.countUnread(ctx, tx, c.ID, readerID, watermark)
		if err != nil {
			return err
		}

		result = &ReadResult{Conversation: c, Watermark: watermark, Unread: unread}
		if watermark == prev && unread == c.UnreadFor(readerID) {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET is_read = TRUE, read_at = $1
			WHERE conversation_id = $2 AND recipient_id = $3 AND seq <= $4 AND is_read = FALSE`,
			at, c.ID, readerID, watermark); err != nil {
			return errors.Wrap(err, "chatRepo.MarkRead.UpdateMessages: ")
		}

		s := side(c, readerID)
		update := fmt.Sprintf(`UPDATE conversations
			SET last_read_seq_%[1]s = $1, last_read_at_%[1]s = $2, unread_%[1]s = $3, version = version + 1
			WHERE id = $4`, s)
		if _, err := tx.ExecContext(ctx, update, watermark, at, unread, c.ID); err != nil {
			return errors.Wrap(err, "chatRepo.MarkRead.UpdateConversation: ")
		}

		if s == "a" {
			c.LastReadSeqA, c.LastReadAtA, c.UnreadA = watermark, &at, unread
		} else {
			c.LastReadSeqB, c.LastReadAtB, c.UnreadB = watermark, &at, unread
		}
		c.Version++
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "chatRepo.inTx.Begin: ")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "chatRepo.inTx.Commit: ")
	}
	return nil
}
