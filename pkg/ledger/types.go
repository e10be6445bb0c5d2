package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// BalanceCents is a non-negative credit balance in hundredths of a credit.
type BalanceCents int64

// NewBalanceCents validates a stored balance.
func NewBalanceCents(raw int64) (BalanceCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidBalance)
	}
	return BalanceCents(raw), nil
}

// Int64 exposes the raw value.
func (balance BalanceCents) Int64() int64 {
	return int64(balance)
}

// String renders the balance with two decimal places.
func (balance BalanceCents) String() string {
	return fmt.Sprintf("%d.%02d", int64(balance)/centsPerCredit, int64(balance)%centsPerCredit)
}

// Credits is a strictly positive whole number of credits.
type Credits int64

// NewCredits validates a credit amount.
func NewCredits(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// ToBalanceCents converts whole credits to balance units.
func (credits Credits) ToBalanceCents() BalanceCents {
	return BalanceCents(int64(credits) * centsPerCredit)
}

// PaymentRef is the payment provider's unique reference for a charge.
type PaymentRef struct {
	value string
}

// NewPaymentRef validates and normalizes a payment reference.
func NewPaymentRef(raw string) (PaymentRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentRef{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentRef)
	}
	return PaymentRef{value: trimmed}, nil
}

// String returns the normalized reference.
func (ref PaymentRef) String() string {
	return ref.value
}

// IsZero reports whether no reference is set.
func (ref PaymentRef) IsZero() bool {
	return ref.value == ""
}

// MetadataJSON stores arbitrary entry metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryPurchase EntryType = "purchase"
	EntryUnlock   EntryType = "unlock"
	EntryRefund   EntryType = "refund"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.TrimSpace(raw)) {
	case EntryPurchase:
		return EntryPurchase, nil
	case EntryUnlock:
		return EntryUnlock, nil
	case EntryRefund:
		return EntryRefund, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// EntryInput is a validated ledger line ready to be appended.
type EntryInput struct {
	ownerID        restoration.OwnerID
	entryType      EntryType
	amountCredits  int64
	paymentRef     PaymentRef
	jobID          restoration.JobID
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewEntryInput validates the sign of the amount against the entry type.
func NewEntryInput(ownerID restoration.OwnerID, entryType EntryType, amountCredits int64, paymentRef PaymentRef, jobID restoration.JobID, metadata MetadataJSON, createdUnixUTC int64) (EntryInput, error) {
	if _, err := ParseEntryType(entryType.String()); err != nil {
		return EntryInput{}, err
	}
	switch entryType {
	case EntryUnlock:
		if amountCredits >= 0 {
			return EntryInput{}, fmt.Errorf("%w: unlock must debit", ErrInvalidEntryAmount)
		}
	default:
		if amountCredits <= 0 {
			return EntryInput{}, fmt.Errorf("%w: %s must credit", ErrInvalidEntryAmount, entryType)
		}
	}
	return EntryInput{
		ownerID:        ownerID,
		entryType:      entryType,
		amountCredits:  amountCredits,
		paymentRef:     paymentRef,
		jobID:          jobID,
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

func (input EntryInput) OwnerID() restoration.OwnerID { return input.ownerID }
func (input EntryInput) Type() EntryType              { return input.entryType }
func (input EntryInput) AmountCredits() int64         { return input.amountCredits }
func (input EntryInput) PaymentRef() PaymentRef       { return input.paymentRef }
func (input EntryInput) JobID() restoration.JobID     { return input.jobID }
func (input EntryInput) MetadataJSON() MetadataJSON   { return input.metadata }
func (input EntryInput) CreatedUnixUTC() int64        { return input.createdUnixUTC }

// A single immutable line in the ledger.
type Entry struct {
	EntryID        string
	OwnerID        restoration.OwnerID
	Type           EntryType
	AmountCredits  int64
	PaymentRef     PaymentRef
	JobID          restoration.JobID
	MetadataJSON   MetadataJSON
	CreatedUnixUTC int64
}

// Owner is the credit-bearing side of a user account.
type Owner struct {
	ID              restoration.OwnerID
	Balance         BalanceCents
	FreePreviewUsed bool
	SocialShareUsed bool
}

// CreditPack is a purchasable bundle of credits.
type CreditPack struct {
	SKU        string
	Credits    Credits
	PriceCents int64
	Active     bool
}

// NewCreditPack validates a pack definition.
func NewCreditPack(sku string, credits int64, priceCents int64, active bool) (CreditPack, error) {
	trimmed := strings.TrimSpace(sku)
	if trimmed == "" {
		return CreditPack{}, fmt.Errorf("%w: empty sku", ErrInvalidCreditPack)
	}
	parsedCredits, err := NewCredits(credits)
	if err != nil {
		return CreditPack{}, err
	}
	if priceCents <= 0 {
		return CreditPack{}, fmt.Errorf("%w: price must be positive", ErrInvalidCreditPack)
	}
	return CreditPack{SKU: trimmed, Credits: parsedCredits, PriceCents: priceCents, Active: active}, nil
}

// PriceDisplay renders the pack price in dollars.
func (pack CreditPack) PriceDisplay() string {
	return fmt.Sprintf("$%d.%02d", pack.PriceCents/100, pack.PriceCents%100)
}

// DefaultCreditPacks is the catalogue seeded on first deploy.
func DefaultCreditPacks() []CreditPack {
	return []CreditPack{
		{SKU: "pack_5", Credits: 5, PriceCents: 999, Active: true},
		{SKU: "pack_10", Credits: 10, PriceCents: 1499, Active: true},
	}
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateOwner(ctx context.Context, ownerID restoration.OwnerID) (Owner, error)
	LockOwner(ctx context.Context, ownerID restoration.OwnerID) (Owner, error)
	UpdateOwnerBalance(ctx context.Context, ownerID restoration.OwnerID, balance BalanceCents) error
	MarkSocialShareUsed(ctx context.Context, ownerID restoration.OwnerID) error
	InsertEntry(ctx context.Context, entry EntryInput) error
	HasPaymentRef(ctx context.Context, ref PaymentRef) (bool, error)
	ListEntries(ctx context.Context, ownerID restoration.OwnerID, beforeUnixUTC int64, limit int) ([]Entry, error)
	GetOwnedJob(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error)
	LockOwnedJob(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error)
	UnlockJob(ctx context.Context, jobID restoration.JobID, method restoration.UnlockMethod, atUnixUTC int64) error
	ListCreditPacks(ctx context.Context) ([]CreditPack, error)
	GetCreditPack(ctx context.Context, sku string) (CreditPack, error)
	EnsureCreditPack(ctx context.Context, pack CreditPack) (bool, error)
}
