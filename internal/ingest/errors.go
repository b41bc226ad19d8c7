package ingest

import "errors"

var (
	ErrUnknownAction   = errors.New("unknown event action")
	ErrUnknownSeverity = errors.New("unknown event severity")
	ErrMissingSummary  = errors.New("trigger events require a summary")
)
