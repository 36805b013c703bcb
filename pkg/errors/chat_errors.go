package errors

var (
	// Domain errors used by the chat service and gateway.
	ErrNotAuthenticated     = Unauthenticated("authentication required")
	ErrInvalidCredential    = Unauthenticated("invalid or expired credential")
	ErrNotAParticipant      = Unauthorized("not a participant of this channel")
	ErrNotChannelAdmin      = Unauthorized("channel admin role required")
	ErrAnnouncementLocked   = Unauthorized("only admins can post to announcement channels")
	ErrNotAnnouncementOwner = Unauthorized("announcement channels can only be created by their owner")
	ErrNotMessageSender     = Forbidden("only the sender can modify this message")
	ErrChannelNotFound      = NotFound("channel not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrUserNotFound         = NotFound("user not found")
	ErrMessageDeleted       = Conflict("message is already deleted")
	ErrGroupRequired        = InvalidArg("group channels require a group id")
	ErrOwnerRequired        = InvalidArg("announcement channels require an owner id")
	ErrEmptyContent         = InvalidArg("message content must not be empty")
	ErrNoParticipantIDs     = InvalidArg("at least one user id is required")
)
