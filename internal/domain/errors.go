package domain

import "errors"

var (
	ErrSessionExists         = errors.New("session already exists")
	ErrSessionNotFound       = errors.New("session not found")
	ErrRestorationInProgress = errors.New("restoration already in progress")
	ErrEmptyActiveSet        = errors.New("refusing cleanup with empty active set")
	ErrInvalidTransition     = errors.New("invalid status transition")
)
