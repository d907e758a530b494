package model

import "errors"

var (
	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrRateLimited           = errors.New("rate limited")
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	ErrSummarizationFailed   = errors.New("summarization failed")
	ErrDeliveryFailed        = errors.New("delivery failed")
	ErrConfiguration         = errors.New("configuration error")
	ErrNotFound              = errors.New("not found")
)
