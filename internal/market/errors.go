package market

import "errors"

// Kind tags of the error taxonomy from spec section 7. These are sentinel
// errors meant to be wrapped with fmt.Errorf("...: %w", ErrX) and matched
// with errors.Is, not compared by type.
var (
	// ErrTransientSource: one tier or exchange unreachable; the caller
	// should fall to the next tier.
	ErrTransientSource = errors.New("transient source failure")

	// ErrSourceExhausted: all four data-source tiers failed.
	ErrSourceExhausted = errors.New("all data source tiers exhausted")

	// ErrDeadlineExceeded: an operation was aborted at a suspension point.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrCapacity: a rate budget or concurrency cap was reached; not an
	// error surfaced to the end user, the unit of work is deferred.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrContractViolation: an invariant was broken. Fatal for the tick
	// that produced it, never for the engine process.
	ErrContractViolation = errors.New("contract violation")

	// ErrDownstream: a channel emit (or other downstream call) failed;
	// the caller should retry with backoff up to the opportunity's expiry.
	ErrDownstream = errors.New("downstream failure")
)

// RecoveryHint is a machine-readable hint attached to an error that crosses
// the API boundary, so clients don't need to parse prose.
type RecoveryHint string

const (
	HintRetryNextTier  RecoveryHint = "retry_next_tier"
	HintRetryLater     RecoveryHint = "retry_later"
	HintNone           RecoveryHint = ""
	HintDeferToCycle   RecoveryHint = "defer_to_next_cycle"
	HintUseCachedData  RecoveryHint = "use_cached_data"
)

// TaggedError is the shape every error crossing the API boundary takes:
// never a bare stack trace, always a kind + message + optional hint.
type TaggedError struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Hint    RecoveryHint `json:"hint,omitempty"`
}

func (e *TaggedError) Error() string { return e.Message }

// NewTaggedError classifies err against the sentinel taxonomy above and
// builds the wire-safe representation.
func NewTaggedError(err error, hint RecoveryHint) *TaggedError {
	kind := "unknown"
	switch {
	case errors.Is(err, ErrTransientSource):
		kind = "transient_source"
	case errors.Is(err, ErrSourceExhausted):
		kind = "exhaustion"
	case errors.Is(err, ErrDeadlineExceeded):
		kind = "deadline_exceeded"
	case errors.Is(err, ErrCapacity):
		kind = "capacity"
	case errors.Is(err, ErrContractViolation):
		kind = "contract_violation"
	case errors.Is(err, ErrDownstream):
		kind = "downstream_failure"
	}
	return &TaggedError{Kind: kind, Message: err.Error(), Hint: hint}
}
