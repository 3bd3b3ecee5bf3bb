package session

import "github.com/smartcode/reviewctl/internal/common/apperrors"

var (
	ErrSession = apperrors.New("session error")

	ErrValidation       = ErrSession.New("invalid input").SetKind(apperrors.KindValidation)
	ErrInvalidEmail     = ErrValidation.New("Please enter a valid email address")
	ErrInvalidOTP       = ErrValidation.New("Please enter a valid 6-digit code")
	ErrNoPendingSession = ErrValidation.New("Please create a session first")
	ErrSessionMismatch  = ErrValidation.New("session id does not match the pending session")
	ErrNoConflict       = ErrValidation.New("no session conflict to resolve")
	ErrBusy             = ErrValidation.New("a session request is already in progress")

	ErrSessionConflict = ErrSession.New("You already have an active session").SetKind(apperrors.KindConflict)

	ErrNotAuthorized    = ErrSession.New("session cannot be used").SetKind(apperrors.KindValidation)
	ErrNoSession        = ErrNotAuthorized.New("Please create a session first")
	ErrNotVerified      = ErrNotAuthorized.New("Please verify your session first")
	ErrSessionExpired   = ErrNotAuthorized.New("Your session has expired. Please create a new session to continue.")
	ErrQuotaExhausted   = ErrNotAuthorized.New("Analysis limit reached for this session")
	ErrTokenMissing     = ErrSession.New("session verified without a token").SetKind(apperrors.KindRemoteRejected)
	ErrStore            = ErrSession.New("unable to access the session store")
	ErrInvalidStoreData = ErrStore.New("session store is corrupt")
)
