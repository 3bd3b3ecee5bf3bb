package analysis

import "github.com/smartcode/reviewctl/internal/common/apperrors"

var (
	ErrAnalysis = apperrors.New("analysis error")

	ErrInvalidPayload  = ErrAnalysis.New("invalid submission").SetKind(apperrors.KindValidation)
	ErrEmptyCode       = ErrInvalidPayload.New("Please enter some code to analyze")
	ErrCodeTooLarge    = ErrInvalidPayload.New("Code is too large (max 100KB)")
	ErrArchiveTooLarge = ErrInvalidPayload.New("File is too large (max 50MB)")
	ErrArchiveType     = ErrInvalidPayload.New("Please upload a ZIP, TAR.GZ, or RAR file")
	ErrArchiveContent  = ErrInvalidPayload.New("File content does not match its archive type")

	ErrAnalysisFailed = ErrAnalysis.New("Analysis failed").SetKind(apperrors.KindRemoteRejected)
	ErrPollTimeout    = ErrAnalysis.New("Analysis is taking longer than expected; stopped watching it").SetKind(apperrors.KindTimeout)
	ErrCancelled      = ErrAnalysis.New("analysis tracking cancelled")
	ErrUnknownJob     = ErrAnalysis.New("unknown analysis").SetKind(apperrors.KindValidation)
)
