package api

import "github.com/smartcode/reviewctl/internal/common/apperrors"

var (
	ErrAPI = apperrors.New("api error")

	// ErrTransport covers network failures and responses that could not be understood.
	ErrTransport = ErrAPI.New("unable to reach the code review service").SetKind(apperrors.KindTransport)

	// ErrRemoteRejected is a well-formed response in which the service refused the request.
	ErrRemoteRejected = ErrAPI.New("request rejected by the code review service").SetKind(apperrors.KindRemoteRejected)

	ErrInvalidResponse = ErrTransport.New("unexpected response from the code review service")
	ErrServiceDown     = ErrTransport.New("code review service is unavailable")
)
