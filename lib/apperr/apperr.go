// Package apperr holds the error taxonomy shared by the core services.
//
// Every failure a service reports is one of the sentinel errors below, optionally wrapped with
// fmt.Errorf("...: %w", err). Callers classify a failure with KindOf, which walks the wrap chain,
// so the core never needs to know how a transport renders the failure.
package apperr

import (
	"errors"
)

// Kind is the coarse category of a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInsufficientResource
	KindExpired
	KindAuth
	KindForbidden
)

// String returns the lower case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientResource:
		return "insufficient_resource"
	case KindExpired:
		return "expired"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a classified sentinel error.
type Error struct {
	kind    Kind
	message string
}

// New creates a sentinel error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func (e *Error) Error() string { return e.message }

// Kind returns the category of the error.
func (e *Error) Kind() Kind { return e.kind }

var (
	// validation
	ErrValidation         = New(KindValidation, "validation error")
	ErrInvalidID          = New(KindValidation, "invalid id")
	ErrInvalidUsername    = New(KindValidation, "invalid username")
	ErrInvalidEmail       = New(KindValidation, "invalid email format")
	ErrInvalidPassword    = New(KindValidation, "password must be at least 8 characters and contain both letters and numbers")
	ErrInvalidDifficulty  = New(KindValidation, "difficulty must be one of easy, medium, hard")
	ErrInvalidRewardType  = New(KindValidation, "reward type must be one of gold, diamond, silver")
	ErrInvalidCoins       = New(KindValidation, "invalid coin amount")
	ErrMissingField       = New(KindValidation, "all fields are required")
	ErrNotPartnerRequest  = New(KindValidation, "notification is not a partner request")
	ErrInvalidGender      = New(KindValidation, "gender must be one of Male, Female, Other")
	ErrInvalidConfirmCode = New(KindValidation, "invalid confirmation token")

	// not found
	ErrNotFound        = New(KindNotFound, "not found")
	ErrAccountNotFound = New(KindNotFound, "account not found")
	ErrTargetNotFound  = New(KindNotFound, "partner not found")
	ErrPartnerNotFound = New(KindNotFound, "partner account not found")

	// conflict
	ErrDuplicateIdentity   = New(KindConflict, "an account with this username or email already exists")
	ErrSelfPairing         = New(KindConflict, "cannot send a partner request to yourself")
	ErrAlreadyPaired       = New(KindConflict, "account already has a partner")
	ErrDuplicateRequest    = New(KindConflict, "partner request already sent")
	ErrPartnerNotConnected = New(KindConflict, "partner is not connected")
	ErrAlreadyCompleted    = New(KindConflict, "challenge already completed")
	ErrAlreadyRedeemed     = New(KindConflict, "reward already redeemed")
	ErrAlreadyConfirmed    = New(KindConflict, "email already confirmed")

	// insufficient resource
	ErrInsufficientCoins = New(KindInsufficientResource, "not enough coins")

	// expired
	ErrExpired             = New(KindExpired, "challenge has expired")
	ErrConfirmationExpired = New(KindExpired, "confirmation token has expired")

	// auth
	ErrUnauthorized       = New(KindAuth, "authentication failed")
	ErrMissingToken       = New(KindAuth, "no token provided")
	ErrInvalidCredentials = New(KindAuth, "invalid credentials")

	// forbidden
	ErrForbidden    = New(KindForbidden, "forbidden")
	ErrInvalidToken = New(KindForbidden, "invalid token")
	ErrNotOwner     = New(KindForbidden, "only the owner can perform this action")

	ErrInternal = New(KindInternal, "internal server error")
)

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the message of the first classified error in err's chain.
// Internal errors never leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.kind != KindInternal {
		return e.message
	}
	return ErrInternal.message
}
