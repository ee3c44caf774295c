package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"sidehustle-chat/internal/apperr"
	"sidehustle-chat/internal/db"
	"sidehustle-chat/internal/metrics"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 100
)

// Service is the messaging core: conversation directory, message store and
// read-state tracker. Every committed mutation is published while the
// conversation's lock is still held, so one node emits a conversation's
// events in commit order.
type Service struct {
	repo       *Repository
	appender   messageAppender
	identity   Identity
	moderation Moderation
	media      MediaResolver
	publisher  Publisher

	locks      *keyedMutex
	tombstones TombstonePolicy
	now        func() time.Time
	newID      func() string
	log        zerolog.Logger
}

type Option func(*Service)

// messageAppender is the atomic append the retry-once path wraps.
type messageAppender interface {
	AppendMessage(ctx context.Context, msg *Message) (*Message, *Conversation, error)
}

func WithTombstonePolicy(p TombstonePolicy) Option {
	return func(s *Service) { s.tombstones = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo *Repository, identity Identity, moderation Moderation, media MediaResolver, publisher Publisher, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		appender:   repo,
		identity:   identity,
		moderation: moderation,
		media:      media,
		publisher:  publisher,
		locks:      newKeyedMutex(),
		tombstones: ShowTombstones,
		now:        time.Now,
		newID:      func() string { return ulid.Make().String() },
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logger prefers the request-scoped logger put in ctx by the HTTP middleware.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// timestamp is the current time at the precision both databases keep.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// publish hands ev to the fan-out even if the caller's request has gone away:
// the write is already committed.
func (s *Service) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(context.WithoutCancel(ctx), ev)
}

// ---------------------------------------------
// Conversation Directory
// ---------------------------------------------

// ResolveOrCreateConversation returns the id of the single conversation between
// userA and userB, creating it on first contact. The order of the arguments
// does not matter.
func (s *Service) ResolveOrCreateConversation(ctx context.Context, userA, userB string) (string, error) {
	if userA == userB {
		return "", ErrSelfConversation
	}
	for _, id := range []string{userA, userB} {
		if err := s.validateParticipant(ctx, id); err != nil {
			return "", err
		}
	}

	c, err := s.resolve(ctx, userA, userB)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Service) validateParticipant(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidParticipant
	}
	if s.identity == nil {
		return nil
	}
	ok, err := s.identity.ValidateParticipant(ctx, userID)
	if err != nil {
		return apperr.Wrap(apperr.Internal("identity lookup failed"), err)
	}
	if !ok {
		return ErrInvalidParticipant
	}
	return nil
}

// resolve finds the canonical pair or creates it. Two concurrent first
// contacts race on the unique pair constraint; the loser re-reads the winner's
// row.
func (s *Service) resolve(ctx context.Context, userA, userB string) (*Conversation, error) {
	a, b := canonicalPair(userA, userB)

	c, err := s.repo.FindConversationByPair(ctx, a, b)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	c = &Conversation{
		ID:        uuid.NewString(),
		UserAID:   a,
		UserBID:   b,
		CreatedAt: s.timestamp(),
	}
	err = s.repo.CreateConversation(ctx, c)
	if err == nil {
		metrics.ConversationsCreated.Inc()
		s.logger(ctx).Debug().Str("conversation_id", c.ID).Msg("conversation created")
		return c, nil
	}
	if !db.IsUniqueViolation(err) {
		return nil, err
	}

	c, err = s.repo.FindConversationByPair(ctx, a, b)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, ErrConflict
	}
	return c, err
}

func canonicalPair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}

// GetConversation returns the conversation if requestingUser is one of its
// participants.
func (s *Service) GetConversation(ctx context.Context, conversationID, requestingUser string) (*Conversation, error) {
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(requestingUser) {
		return nil, ErrForbidden
	}
	return c, nil
}

// ---------------------------------------------
// Message Store
// ---------------------------------------------

type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	MediaRef       *string
	ReplyToID      *string
}

func (s *Service) AppendMessage(ctx context.Context, in AppendInput) (*Message, error) {
	content, err := normalizeContent(in.Content, in.MediaRef)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(in.SenderID) {
		return nil, ErrNotParticipant
	}

	unlock := s.locks.Lock(c.ID)
	defer unlock()

	msg := &Message{
		ID:             s.newID(),
		ConversationID: c.ID,
		SenderID:       in.SenderID,
		Content:        content,
		MediaRef:       nonEmpty(in.MediaRef),
		ReplyToID:      nonEmpty(in.ReplyToID),
		CreatedAt:      s.timestamp(),
	}

	stored, conv, err := s.appender.AppendMessage(ctx, msg)
	if err != nil && db.IsTransient(err) {
		// Same id: if the first attempt did commit, the replay returns it.
		s.logger(ctx).Warn().Err(err).Str("message_id", msg.ID).Msg("retrying append after transient error")
		metrics.AppendRetries.Inc()
		stored, conv, err = s.appender.AppendMessage(ctx, msg)
	}
	if err != nil {
		return nil, err
	}

	kind := "text"
	if stored.hasMedia() {
		kind = "media"
	}
	metrics.MessagesAppended.WithLabelValues(kind).Inc()

	s.resolveMedia(ctx, stored)
	s.publish(ctx, NewMessage{eventHeader: headerFor(conv), Message: stored})
	return stored, nil
}

// normalizeContent rejects a message with neither text nor media. Blank text
// is stored as empty.
func normalizeContent(content string, mediaRef *string) (string, error) {
	if strings.TrimSpace(content) == "" {
		if nonEmpty(mediaRef) == nil {
			return "", ErrEmptyMessage
		}
		return "", nil
	}
	return content, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// EditMessage replaces the text of a live message. Only the sender may edit.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID, newContent string) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted() {
		return nil, ErrMessageNotFound
	}
	if m.SenderID != editorID {
		return nil, ErrForbidden
	}
	content, err := normalizeContent(newContent, m.MediaRef)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	edited, conv, err := s.repo.EditMessage(ctx, messageID, editorID, content, s.timestamp())
	if err != nil {
		return nil, err
	}
	metrics.MessagesEdited.Inc()

	s.resolveMedia(ctx, edited)
	s.publish(ctx, MessageEdited{eventHeader: headerFor(conv), Message: edited})
	return edited, nil
}

// SoftDeleteMessage tombstones a message. The sender may always delete; anyone
// else needs the moderation collaborator's approval. Deleting a tombstone is a
// no-op.
func (s *Service) SoftDeleteMessage(ctx context.Context, messageID, requesterID string) error {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		allowed, err := s.canModerate(ctx, requesterID)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrForbidden
		}
	}

	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	deleted, conv, changed, err := s.repo.SoftDeleteMessage(ctx, messageID, requesterID, s.timestamp())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	metrics.MessagesDeleted.Inc()

	s.publish(ctx, MessageDeleted{
		eventHeader:        headerFor(conv),
		MessageID:          deleted.ID,
		Seq:                deleted.Seq,
		DeletedBy:          requesterID,
		DeletedAt:          *deleted.DeletedAt,
		LastMessagePreview: conv.LastMessagePreview,
	})
	return nil
}

func (s *Service) canModerate(ctx context.Context, userID string) (bool, error) {
	if s.moderation == nil {
		return false, nil
	}
	ok, err := s.moderation.CanModerate(ctx, userID)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal("moderation lookup failed"), err)
	}
	return ok, nil
}

type Page struct {
	Cursor string
	Limit  int
}

// ListMessages returns one page of a conversation's messages, oldest first.
// The cursor is opaque to callers.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string, page Page) (MessagePage, error) {
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return MessagePage{}, err
	}
	if !c.HasParticipant(requesterID) {
		return MessagePage{}, ErrNotParticipant
	}
	return s.listMessages(ctx, c.ID, page)
}

func (s *Service) listMessages(ctx context.Context, conversationID string, page Page) (MessagePage, error) {
	after, err := decodeMessageCursor(page.Cursor)
	if err != nil {
		return MessagePage{}, err
	}
	limit := clampLimit(page.Limit, DefaultMessagePageSize, MaxMessagePageSize)

	msgs, err := s.repo.ListMessages(ctx, conversationID, after, limit+1, s.tombstones == ShowTombstones)
	if err != nil {
		return MessagePage{}, err
	}

	result := MessagePage{Messages: make([]*Message, 0, len(msgs))}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		result.NextCursor = encodeMessageCursor(msgs[len(msgs)-1].Seq)
	}
	for _, m := range msgs {
		s.resolveMedia(ctx, m)
		result.Messages = append(result.Messages, m)
	}
	return result, nil
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (s *Service) resolveMedia(ctx context.Context, m *Message) {
	if s.media == nil || !m.hasMedia() {
		return
	}
	url, err := s.media.ResolveMediaRef(*m.MediaRef)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Str("message_id", m.ID).Msg("could not resolve media ref")
		return
	}
	m.MediaURL = url
}

// ---------------------------------------------
// Read-State Tracker
// ---------------------------------------------

// MarkRead moves readerID's watermark up to throughMessageID (or to the newest
// message when empty) and returns the unread count left. READ_UPDATED is only
// published when something changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID, throughMessageID string) (int, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	at := s.timestamp()
	res, err := s.repo.MarkRead(ctx, conversationID, readerID, throughMessageID, at)
	if err != nil {
		return 0, err
	}
	if !res.Changed {
		return res.Unread, nil
	}
	metrics.ReadsMarked.Inc()

	s.publish(ctx, ReadUpdated{
		eventHeader: headerFor(res.Conversation),
		ReaderID:    readerID,
		LastReadSeq: res.Watermark,
		UnreadCount: res.Unread,
		ReadAt:      at,
	})
	return res.Unread, nil
}

func (s *Service) GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !c.HasParticipant(userID) {
		return 0, ErrNotParticipant
	}
	return c.UnreadFor(userID), nil
}

// GetTotalUnread sums the user's unread counts over non-archived conversations.
func (s *Service) GetTotalUnread(ctx context.Context, userID string) (int, error) {
	return s.repo.TotalUnread(ctx, userID)
}

// SetArchived hides or restores a conversation in userID's list. Unread
// counters are not touched.
func (s *Service) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	_, err := s.repo.SetArchived(ctx, conversationID, userID, archived)
	return err
}

// ---------------------------------------------
// Composite
// ---------------------------------------------

type SendInput struct {
	SenderID    string
	RecipientID string
	Content     string
	MediaRef    *string
	ReplyToID   *string
}

type SendResult struct {
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	Message        *Message `json:"message"`
}

// SendMessage resolves (or creates) the sender/recipient conversation and
// appends to it.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	// Checked up front so an empty first message does not leave an empty
	// conversation behind.
	if _, err := normalizeContent(in.Content, in.MediaRef); err != nil {
		return nil, err
	}

	conversationID, err := s.ResolveOrCreateConversation(ctx, in.SenderID, in.RecipientID)
	if err != nil {
		return nil, err
	}

	msg, err := s.AppendMessage(ctx, AppendInput{
		ConversationID: conversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		MediaRef:       in.MediaRef,
		ReplyToID:      in.ReplyToID,
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{ConversationID: conversationID, MessageID: msg.ID, Message: msg}, nil
}
