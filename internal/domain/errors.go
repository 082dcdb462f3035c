// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request was rejected before reaching the backend.
var ErrValidation = errors.New("validation error")

// ErrBusy indicates the same mutation is already in progress.
var ErrBusy = errors.New("operation already in progress")

// ErrNoRepository indicates no working copy is open in the session.
var ErrNoRepository = errors.New("no repository open")

// ErrNoChanges indicates the working copy has no pending diff.
var ErrNoChanges = errors.New("no pending changes")

// ErrNotConfirmed indicates an irreversible action was requested without confirmation.
var ErrNotConfirmed = errors.New("confirmation required")
