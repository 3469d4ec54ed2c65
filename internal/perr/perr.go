// Package perr defines the pipeline's error taxonomy, per spec §7.
// Errors here are sentinel values comparable with errors.Is; the
// Spooler and the Remote bridge use their text as log messages.
// Frame states and metric names are defined separately, in
// internal/frame and internal/metrics.
package perr

import "errors"

// Recoverable per-packet.
var (
	ErrDecipherFail = errors.New("decipher failed")
	ErrParseFail    = errors.New("header parse failed")
	ErrDecodeFail   = errors.New("decode failed")
)

// Recoverable per-frame.
var (
	ErrOutdated = errors.New("frame outdated")
	ErrFlushed  = errors.New("frame flushed")
)

// Transient.
var (
	ErrNoClockAnchor = errors.New("no clock or anchor")
	ErrSyncWait      = errors.New("waiting for sync")
	ErrNoConn        = errors.New("remote bridge not connected")
)

// Session-fatal.
var (
	ErrSessionClosed  = errors.New("session socket closed")
	ErrNoSharedKey    = errors.New("cipher key absent")
	ErrRackWIPTimeout = errors.New("rack work-in-progress timeout") // per-frame: the Spooler skips the stalled frame and continues
)

// Process-fatal.
var (
	ErrShmUnmappable = errors.New("shared memory region unmappable")
)
