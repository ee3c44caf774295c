package chat

import "sidehustle-chat/internal/apperr"

var (
	ErrInvalidParticipant   = apperr.InvalidArg("invalid participant")
	ErrSelfConversation     = apperr.InvalidArg("cannot start a conversation with yourself")
	ErrNotParticipant       = apperr.Forbidden("not a participant of this conversation")
	ErrForbidden            = apperr.Forbidden("not allowed")
	ErrConversationNotFound = apperr.NotFound("conversation not found")
	ErrMessageNotFound      = apperr.NotFound("message not found")
	ErrEmptyMessage         = apperr.InvalidArg("message must have content or media")
	ErrInvalidReplyTarget   = apperr.InvalidArg("reply target must be a live message in the same conversation")
	ErrInvalidCursor        = apperr.InvalidArg("invalid cursor")
	ErrInvalidArchiveFilter = apperr.InvalidArg("archive must be one of active, archived, all")
	ErrConflict             = apperr.Conflict("conversation could not be resolved, retry")
)
