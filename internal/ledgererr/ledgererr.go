// Package ledgererr classifies pipeline errors by kind so the shell's
// command loop can decide reject-tx vs abort-block vs terminate-session
// without each call site re-deriving the policy.
package ledgererr

import "errors"

// Kind tags an error with its failure-policy bucket.
type Kind int

const (
	// KindUnknown is returned by Classify for an error not tagged via Wrap
	// (or nil). Untagged errors are tx-local, never fatal: only storage and
	// channel failures terminate the session.
	KindUnknown Kind = iota
	KindDecode
	KindStorage
	KindWriteLogViolation
	KindWASM
	KindVPRejection
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindStorage:
		return "storage"
	case KindWriteLogViolation:
		return "write_log_violation"
	case KindWASM:
		return "wasm"
	case KindVPRejection:
		return "vp_rejection"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind must abort the current block
// (storage, channel) rather than simply reject the offending tx.
func (k Kind) Fatal() bool {
	return k == KindStorage || k == KindChannel
}

// kindError wraps an error with its classification, implementing Unwrap so
// errors.Is/As still see through to the original cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Classify recovers the Kind a Wrap call attached to err, walking the
// unwrap chain. Returns KindUnknown for an untagged error or nil.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}
