package api

import (
	"strings"

	"github.com/smartcode/reviewctl/internal/common/apperrors"
)

// GenericTransportMessage is shown for failures that carry no server message.
const GenericTransportMessage = "Unable to reach the code review service. Please check your connection and try again."

var friendlyMessages = []struct {
	match   string
	message string
}{
	{"active session already exists", "You already have an active session. Please wait for it to expire or use the existing session."},
	{"Name must be", "Please provide a valid name (at least 2 characters)."},
	{"Invalid OTP", "The verification code is not valid. Please check your email and try again."},
	{"expired", "Your session has expired. Please create a new session to continue."},
}

// FriendlyMessage maps known server messages to text meant for the user. Unknown messages are
// returned unchanged.
func FriendlyMessage(msg string) string {
	for _, f := range friendlyMessages {
		if strings.Contains(msg, f.match) {
			return f.message
		}
	}
	return msg
}

// UserMessage returns the text to surface for err. Transport failures never expose the
// underlying network error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindTransport:
		return GenericTransportMessage
	case apperrors.KindRemoteRejected:
		return FriendlyMessage(err.Error())
	default:
		return err.Error()
	}
}
