package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// Service contains the credit and unlock logic over a Store.
type Service struct {
	store               Store
	nowFn               func() int64
	logger              OperationLogger
	shareStates         ShareStateStore
	shareTokens         *ShareTokenSigner
	shareLinks          ShareLinks
	confirmDelaySeconds int64
}

// UnlockResult is returned after a successful paid unlock.
type UnlockResult struct {
	FullURL string
	Balance BalanceCents
}

// PurchaseResult reports whether a payment event changed the balance.
type PurchaseResult struct {
	Applied bool
	Balance BalanceCents
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the owner's credit state, creating it on first access.
func (service *Service) Balance(ctx context.Context, ownerID restoration.OwnerID) (Owner, error) {
	return service.store.GetOrCreateOwner(ctx, ownerID)
}

// UnlockWithCredits spends one credit to release the full-resolution result.
func (service *Service) UnlockWithCredits(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (UnlockResult, error) {
	var result UnlockResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		job, err := transactionStore.LockOwnedJob(ctx, ownerID, jobID)
		if err != nil {
			return err
		}
		if err := checkUnlockable(job); err != nil {
			return err
		}
		owner, err := transactionStore.LockOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		cost := Credits(UnlockCostCredits).ToBalanceCents()
		if owner.Balance < cost {
			return WrapError("service", "balance", "insufficient", ErrInsufficientCredits)
		}
		remaining := owner.Balance - cost
		nowUnixUTC := service.nowFn()
		entryInput, err := NewEntryInput(ownerID, EntryUnlock, -UnlockCostCredits, PaymentRef{}, jobID, MetadataJSON{}, nowUnixUTC)
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
			return err
		}
		if err := transactionStore.UpdateOwnerBalance(ctx, ownerID, remaining); err != nil {
			return err
		}
		if err := transactionStore.UnlockJob(ctx, jobID, restoration.UnlockPaid, nowUnixUTC); err != nil {
			return err
		}
		result = UnlockResult{FullURL: job.FullURL, Balance: remaining}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationUnlock,
		OwnerID:       ownerID,
		JobID:         jobID,
		AmountCredits: -UnlockCostCredits,
		Error:         operationError,
	})
	if operationError != nil {
		return UnlockResult{}, operationError
	}
	return result, nil
}

// Purchase credits the owner once per payment reference.
func (service *Service) Purchase(ctx context.Context, ownerID restoration.OwnerID, paymentRef PaymentRef, credits Credits, metadata MetadataJSON) (PurchaseResult, error) {
	return service.credit(ctx, operationPurchase, EntryPurchase, ownerID, paymentRef, credits, restoration.JobID{}, metadata)
}

// Refund returns credits to the owner once per refund reference.
func (service *Service) Refund(ctx context.Context, ownerID restoration.OwnerID, refundRef PaymentRef, credits Credits, jobID restoration.JobID, metadata MetadataJSON) (PurchaseResult, error) {
	return service.credit(ctx, operationRefund, EntryRefund, ownerID, refundRef, credits, jobID, metadata)
}

func (service *Service) credit(ctx context.Context, operation string, entryType EntryType, ownerID restoration.OwnerID, paymentRef PaymentRef, credits Credits, jobID restoration.JobID, metadata MetadataJSON) (PurchaseResult, error) {
	applied := false
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if paymentRef.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidPaymentRef)
		}
		exists, err := transactionStore.HasPaymentRef(ctx, paymentRef)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		owner, err := transactionStore.LockOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		entryInput, err := NewEntryInput(ownerID, entryType, credits.Int64(), paymentRef, jobID, metadata, service.nowFn())
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
			return err
		}
		if err := transactionStore.UpdateOwnerBalance(ctx, ownerID, owner.Balance+credits.ToBalanceCents()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if errors.Is(operationError, ErrDuplicatePaymentRef) {
		// A concurrent delivery of the same event won the unique index.
		operationError = nil
		applied = false
	}
	entry := OperationLog{
		Operation:     operation,
		OwnerID:       ownerID,
		JobID:         jobID,
		PaymentRef:    paymentRef,
		AmountCredits: credits.Int64(),
		Error:         operationError,
	}
	if operationError == nil && !applied {
		entry.Status = operationStatusSkipped
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return PurchaseResult{}, operationError
	}
	owner, err := service.store.GetOrCreateOwner(ctx, ownerID)
	if err != nil {
		return PurchaseResult{Applied: applied}, err
	}
	return PurchaseResult{Applied: applied, Balance: owner.Balance}, nil
}

// ListEntries lists the owner's ledger lines before a cutoff, newest first.
func (service *Service) ListEntries(ctx context.Context, ownerID restoration.OwnerID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultEntryPageSize
	}
	return service.store.ListEntries(ctx, ownerID, beforeUnixUTC, limit)
}

// CreditPacks lists the active catalogue ordered by credits.
func (service *Service) CreditPacks(ctx context.Context) ([]CreditPack, error) {
	return service.store.ListCreditPacks(ctx)
}

// CreditPack resolves an active pack by sku.
func (service *Service) CreditPack(ctx context.Context, sku string) (CreditPack, error) {
	pack, err := service.store.GetCreditPack(ctx, sku)
	if err != nil {
		return CreditPack{}, err
	}
	if !pack.Active {
		return CreditPack{}, fmt.Errorf("%w: %s is inactive", ErrUnknownCreditPack, sku)
	}
	return pack, nil
}

// SeedCreditPacks inserts missing packs and reports how many were created.
func (service *Service) SeedCreditPacks(ctx context.Context, packs []CreditPack) (int, error) {
	created := 0
	for _, pack := range packs {
		inserted, err := service.store.EnsureCreditPack(ctx, pack)
		entry := OperationLog{Operation: operationSeedPack, AmountCredits: pack.Credits.Int64(), Error: err}
		if err == nil && !inserted {
			entry.Status = operationStatusSkipped
		}
		service.logOperation(ctx, entry)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func checkUnlockable(job restoration.Job) error {
	if job.Status != restoration.StatusCompleted {
		return fmt.Errorf("%w: status %s", ErrInvalidState, job.Status)
	}
	if job.IsUnlocked() {
		return ErrAlreadyUnlocked
	}
	return nil
}
