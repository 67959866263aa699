package scrape

import "errors"

// Error taxonomy. Agent and provider errors are recovered by the retry policy;
// filesystem and sink errors are reported to the caller.
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrProvider    = errors.New("provider error")
	ErrNoOutput    = errors.New("agent produced no output")
	ErrUnparseable = errors.New("agent output is not valid schema JSON")
	ErrUnknown     = errors.New("unknown agent failure")
	ErrFilesystem  = errors.New("filesystem fault")
	ErrSinkUpload  = errors.New("sink upload failed")
)
