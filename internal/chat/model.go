package chat

import (
	"time"
	"unicode/utf8"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// Conversation is the single pairwise channel between two participants. The
// pair is stored canonically (UserAID < UserBID); the *A/*B fields belong to
// the participant on that side.
type Conversation struct {
	ID                 string     `json:"id"`
	UserAID            string     `json:"user_a_id"`
	UserBID            string     `json:"user_b_id"`
	CreatedAt          time.Time  `json:"created_at"`
	LastMessageID      string     `json:"last_message_id,omitempty"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastSeq            int64      `json:"last_seq"`
	UnreadA            int        `json:"unread_a"`
	UnreadB            int        `json:"unread_b"`
	ArchivedA          bool       `json:"archived_a"`
	ArchivedB          bool       `json:"archived_b"`
	LastReadSeqA       int64      `json:"last_read_seq_a"`
	LastReadSeqB       int64      `json:"last_read_seq_b"`
	LastReadAtA        *time.Time `json:"last_read_at_a,omitempty"`
	LastReadAtB        *time.Time `json:"last_read_at_b,omitempty"`
	Version            int64      `json:"version"`

	sortKey int64 // unix nanos of last activity; list order and cursor
}

// HasParticipant reports whether userID is one of the two sides.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.UserAID || userID == c.UserBID
}

// Participants returns both sides in canonical order.
func (c *Conversation) Participants() []string {
	return []string{c.UserAID, c.UserBID}
}

// Other returns the participant opposite userID.
func (c *Conversation) Other(userID string) string {
	if userID == c.UserAID {
		return c.UserBID
	}
	return c.UserAID
}

func (c *Conversation) UnreadFor(userID string) int {
	if userID == c.UserAID {
		return c.UnreadA
	}
	return c.UnreadB
}

func (c *Conversation) ArchivedFor(userID string) bool {
	if userID == c.UserAID {
		return c.ArchivedA
	}
	return c.ArchivedB
}

func (c *Conversation) LastReadSeqFor(userID string) int64 {
	if userID == c.UserAID {
		return c.LastReadSeqA
	}
	return c.LastReadSeqB
}

func (c *Conversation) LastReadAtFor(userID string) *time.Time {
	if userID == c.UserAID {
		return c.LastReadAtA
	}
	return c.LastReadAtB
}

// Message is one entry of a conversation's append-only log. Seq is the order
// key: strictly increasing per conversation and never reused.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Content        string     `json:"content"`
	MediaRef       *string    `json:"media_ref,omitempty"`
	MediaURL       string     `json:"media_url,omitempty"` // resolved on read, never stored
	ReplyToID      *string    `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      *string    `json:"deleted_by,omitempty"`
}

func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

func (m *Message) hasMedia() bool {
	return m.MediaRef != nil && *m.MediaRef != ""
}

const (
	previewMaxRunes = 100
	mediaPreview    = "📎 Media"
)

// preview is the conversation-list text for a message.
func preview(content string, hasMedia bool) string {
	if content == "" && hasMedia {
		return mediaPreview
	}
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxRunes-1]) + "…"
}

// ParticipantSummary is what the identity collaborator tells us about a user
// for list rendering.
type ParticipantSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ---------------------------------------------
// 📖 Read Models
// ---------------------------------------------

// ConversationSummary is one row of "my conversations", projected for Viewer.
type ConversationSummary struct {
	ConversationID     string             `json:"conversation_id"`
	OtherParticipant   ParticipantSummary `json:"other_participant"`
	LastMessagePreview string             `json:"last_message_preview"`
	LastMessageAt      *time.Time         `json:"last_message_at,omitempty"`
	UnreadCount        int                `json:"unread_count"`
	Archived           bool               `json:"archived"`
}

type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	NextCursor    string                `json:"next_cursor,omitempty"`
}

type MessagePage struct {
	Messages   []*Message `json:"messages"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ConversationView is what loadConversation returns.
type ConversationView struct {
	Conversation ConversationSummary `json:"conversation"`
	// OtherLastReadSeq lets clients render read receipts for their own messages.
	OtherLastReadSeq int64       `json:"other_last_read_seq"`
	OtherLastReadAt  *time.Time  `json:"other_last_read_at,omitempty"`
	Messages         MessagePage `json:"messages"`
}

// ArchiveFilter selects which conversations a listing returns.
type ArchiveFilter string

const (
	ArchiveActive   ArchiveFilter = "active"
	ArchiveArchived ArchiveFilter = "archived"
	ArchiveAll      ArchiveFilter = "all"
)

// TombstonePolicy decides whether soft-deleted messages appear in listings.
type TombstonePolicy int

const (
	ShowTombstones TombstonePolicy = iota
	HideTombstones
)

// ---------------------------------------------
// ⚡ WebSocket Models
// ---------------------------------------------

// WSCommand is the JSON a websocket client sends us.
type WSCommand struct {
	Type             string  `json:"type"` // "send", "mark_read" or "follow"
	RecipientID      string  `json:"recipient_id,omitempty"`
	ConversationID   string  `json:"conversation_id,omitempty"`
	Content          string  `json:"content,omitempty"`
	MediaRef         *string `json:"media_ref,omitempty"`
	ReplyToID        *string `json:"reply_to_id,omitempty"`
	ThroughMessageID string  `json:"through_message_id,omitempty"`
}

// WSError is pushed back to a websocket client when one of its commands fails.
type WSError struct {
	Type    string `json:"type"` // always "error"
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
