package escrow

import "fmt"

// Kind classifies a rejection so the HTTP layer can render a specific
// message and the caller can decide whether a retry makes sense.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindUnauthorized          Kind = "unauthorized"
	KindIllegalTransition     Kind = "illegal_transition"
	KindOverFunding           Kind = "over_funding"
	KindAlreadyTerminal       Kind = "already_terminal"
	KindStaleWrite            Kind = "stale_write"
	KindConfigurationMismatch Kind = "configuration_mismatch"
)

// Rejection is a typed refusal of an operation. NoOp marks the idempotent
// case: the escrow is already in the state the event would produce, so
// redelivery is harmless (the deadline monitor relies on this).
type Rejection struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	NoOp    bool   `json:"-"`
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s: %s", r.Kind, r.Field, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Is matches rejections by kind, so errors.Is(err, ErrOverFunding) works
// regardless of field and message.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

// Sentinel rejections for errors.Is matching.
var (
	ErrNotFound              = &Rejection{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized          = &Rejection{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrIllegalTransition     = &Rejection{Kind: KindIllegalTransition, Message: "illegal transition"}
	ErrOverFunding           = &Rejection{Kind: KindOverFunding, Message: "over funding"}
	ErrAlreadyTerminal       = &Rejection{Kind: KindAlreadyTerminal, Message: "already terminal"}
	ErrStaleWrite            = &Rejection{Kind: KindStaleWrite, Message: "stale write"}
	ErrConfigurationMismatch = &Rejection{Kind: KindConfigurationMismatch, Message: "configuration mismatch"}
)

func reject(kind Kind, field, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func rejectNoOp(kind Kind, field, format string, args ...any) *Rejection {
	r := reject(kind, field, format, args...)
	r.NoOp = true
	return r
}

// IsNoOp reports whether err is an idempotent-redelivery rejection.
func IsNoOp(err error) bool {
	if r, ok := err.(*Rejection); ok {
		return r.NoOp
	}
	return false
}
