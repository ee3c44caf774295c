package chat

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultConversationPageSize = 20
	MaxConversationPageSize     = 50

	// summaryLookups bounds concurrent identity calls per page.
	summaryLookups = 8
)

type ListConversationsInput struct {
	Cursor  string
	Limit   int
	Archive ArchiveFilter
}

// ListConversations returns userID's conversations, most recent activity
// first, each with the other participant's summary and userID's unread count.
func (s *Service) ListConversations(ctx context.Context, userID string, in ListConversationsInput) (ConversationPage, error) {
	filter := in.Archive
	switch filter {
	case "":
		filter = ArchiveActive
	case ArchiveActive, ArchiveArchived, ArchiveAll:
	default:
		return ConversationPage{}, ErrInvalidArchiveFilter
	}

	after, err := decodeConversationCursor(in.Cursor)
	if err != nil {
		return ConversationPage{}, err
	}
	limit := clampLimit(in.Limit, DefaultConversationPageSize, MaxConversationPageSize)

	convs, err := s.repo.ListConversations(ctx, userID, filter, after, limit+1)
	if err != nil {
		return ConversationPage{}, err
	}

	page := ConversationPage{}
	if len(convs) > limit {
		convs = convs[:limit]
		last := convs[len(convs)-1]
		page.NextCursor = encodeConversationCursor(conversationCursor{SortKey: last.sortKey, ID: last.ID})
	}

	page.Conversations = make([]ConversationSummary, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryLookups)
	for i, c := range convs {
		i, c := i, c
		g.Go(func() error {
			page.Conversations[i] = s.summarize(gctx, c, userID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ConversationPage{}, err
	}
	return page, nil
}

// summarize projects c for viewer. A failed identity lookup degrades to an
// id-only participant instead of failing the whole list.
func (s *Service) summarize(ctx context.Context, c *Conversation, viewer string) ConversationSummary {
	other := c.Other(viewer)
	ps := ParticipantSummary{ID: other}
	if s.identity != nil {
		found, err := s.identity.ParticipantSummary(ctx, other)
		if err != nil {
			s.logger(ctx).Warn().Err(err).Str("user_id", other).Msg("participant summary unavailable")
		} else {
			ps = found
			ps.ID = other
		}
	}
	if ps.AvatarRef != "" && s.media != nil {
		if url, err := s.media.ResolveMediaRef(ps.AvatarRef); err == nil {
			ps.AvatarURL = url
		}
	}

	return ConversationSummary{
		ConversationID:     c.ID,
		OtherParticipant:   ps,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		UnreadCount:        c.UnreadFor(viewer),
		Archived:           c.ArchivedFor(viewer),
	}
}

type LoadInput struct {
	ConversationID string
	UserID         string
	Cursor         string
	Limit          int
	// Peek leaves the unread count alone.
	Peek bool
}

// LoadConversation returns the conversation header and one page of messages.
// Unless Peek is set, opening a conversation marks it read.
func (s *Service) LoadConversation(ctx context.Context, in LoadInput) (*ConversationView, error) {
	c, err := s.GetConversation(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return nil, err
	}

	if !in.Peek {
		if _, err := s.MarkRead(ctx, c.ID, in.UserID, ""); err != nil {
			return nil, err
		}
		if c, err = s.repo.GetConversation(ctx, c.ID); err != nil {
			return nil, err
		}
	}

	msgs, err := s.listMessages(ctx, c.ID, Page{Cursor: in.Cursor, Limit: in.Limit})
	if err != nil {
		return nil, err
	}

	return &ConversationView{
		Conversation:     s.summarize(ctx, c, in.UserID),
		OtherLastReadSeq: c.LastReadSeqFor(c.Other(in.UserID)),
		OtherLastReadAt:  c.LastReadAtFor(c.Other(in.UserID)),
		Messages:         msgs,
	}, nil
}

// ---------------------------------------------
// Cursors
// ---------------------------------------------

func encodeMessageCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

func decodeMessageCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

func encodeConversationCursor(c conversationCursor) string {
	raw := strconv.FormatInt(c.SortKey, 10) + "_" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeConversationCursor(cursor string) (*conversationCursor, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	key, id, ok := strings.Cut(string(raw), "_")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	sortKey, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &conversationCursor{SortKey: sortKey, ID: id}, nil
}
