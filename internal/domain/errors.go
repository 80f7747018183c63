package domain

import "errors"

// ErrorClass groups protocol errors by how the caller should react. Validation
// and authorization failures are caller-correctable; state-conflict failures
// require re-reading current state; integrity failures indicate a broken
// custody precondition and always abort the whole operation.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassValidation
	ClassAuthorization
	ClassStateConflict
	ClassIntegrity
)

var (
	// Validation errors. No state is mutated.
	ErrPropertyIDTooLong    = errors.New("property id exceeds 32 bytes")
	ErrLocationTooLong      = errors.New("location exceeds 255 bytes")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidAmount        = errors.New("offer amount must be positive")
	ErrInvalidExpiration    = errors.New("expiration time must be in the future")
	ErrInvalidFeePercentage = errors.New("fee percentage must be in [0, 10000]")
	ErrSeedTooLong          = errors.New("derivation seed exceeds maximum length")

	// Authorization errors. The recovered signer does not match the stored
	// owner or authority.
	ErrUnauthorized = errors.New("signer does not match required identity")

	// State-conflict errors. The requested transition is illegal given
	// current state.
	ErrAlreadyInitialized   = errors.New("marketplace already initialized")
	ErrDuplicateProperty    = errors.New("property id already listed")
	ErrDuplicateActiveOffer = errors.New("active offer already exists for this buyer and property")
	ErrPropertyInactive     = errors.New("property is not active")
	ErrOfferNotPending      = errors.New("offer is not pending")
	ErrOfferExpired         = errors.New("offer has expired")
	ErrOfferNotExpired      = errors.New("offer has not expired yet")

	// Integrity errors. Custody preconditions are broken; the operation
	// aborts with no partial state.
	ErrInvalidAssetMint  = errors.New("asset mint is invalid or already in use")
	ErrTransferFailed    = errors.New("asset transfer precondition violated")
	ErrInsufficientFunds = errors.New("insufficient spendable balance")

	// Lookup / infrastructure errors.
	ErrNotFound  = errors.New("not found")
	ErrLockHeld  = errors.New("lock already held")
	ErrBadSig    = errors.New("signature verification failed")
	ErrBadEncode = errors.New("malformed instruction encoding")
)

// Classify returns the ErrorClass for a protocol error. Unknown errors map to
// ClassUnknown so transport layers can fall back to a generic status.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrPropertyIDTooLong),
		errors.Is(err, ErrLocationTooLong),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidExpiration),
		errors.Is(err, ErrInvalidFeePercentage),
		errors.Is(err, ErrSeedTooLong),
		errors.Is(err, ErrBadEncode):
		return ClassValidation
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBadSig):
		return ClassAuthorization
	case errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrDuplicateProperty),
		errors.Is(err, ErrDuplicateActiveOffer),
		errors.Is(err, ErrPropertyInactive),
		errors.Is(err, ErrOfferNotPending),
		errors.Is(err, ErrOfferExpired),
		errors.Is(err, ErrOfferNotExpired):
		return ClassStateConflict
	case errors.Is(err, ErrInvalidAssetMint),
		errors.Is(err, ErrTransferFailed),
		errors.Is(err, ErrInsufficientFunds):
		return ClassIntegrity
	default:
		return ClassUnknown
	}
}
