package ledger

import (
	"errors"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrAlreadyUnlocked      = errors.New("already unlocked")
	ErrInvalidState         = errors.New("restoration not completed")
	ErrSocialShareUsed      = errors.New("social share unlock already used")
	ErrShareNotInitiated    = errors.New("share was not initiated via server redirect")
	ErrShareFlowExpired     = errors.New("share flow expired")
	ErrShareConfirmTooSoon  = errors.New("share confirmed too soon")
	ErrInvalidShareToken    = errors.New("invalid share token")
	ErrInvalidSharePlatform = errors.New("invalid share platform")
	ErrShareFlowDisabled    = errors.New("share flow not configured")
	ErrDuplicatePaymentRef  = errors.New("duplicate payment reference")
	ErrUnknownCreditPack    = errors.New("unknown credit pack")
	ErrInvalidPaymentRef    = errors.New("invalid payment reference")
	ErrInvalidCredits       = errors.New("invalid credits")
	ErrInvalidBalance       = errors.New("invalid balance")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrInvalidEntryAmount   = errors.New("invalid entry amount")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidCreditPack    = errors.New("invalid credit pack")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	return restoration.WrapError(operation, subject, code, err)
}
