package gemini

import "errors"

// Package-specific errors
var (
	// ErrEmptyPrompt is returned when a generation call receives no input
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrEmptyTranscript is returned when a reply or title is requested
	// for an empty transcript
	ErrEmptyTranscript = errors.New("transcript cannot be empty")
)
