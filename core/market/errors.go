package market

import (
	"errors"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/signal"
)

// Balancing failures. None of them aborts a pass: a participant without
// vertices is scheduled at the fallback power, a degenerate interval keeps its
// price for the round, a count mismatch forces a resend and a forced
// convergence is retried in a later cycle.
var (
	ErrNoActiveVertex        = curve.ErrNoActiveVertex
	ErrDegenerateCurve       = curve.ErrDegenerateCurve
	ErrRecordCountMismatch   = signal.ErrRecordCountMismatch
	ErrConvergenceNotReached = errors.New("convergence not reached within iteration cap")
	ErrDuplicateParticipant  = errors.New("participant already registered")
	ErrUnknownMethod         = errors.New("unknown balancing method")
)
