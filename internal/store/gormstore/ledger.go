package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction, now: store.now})
	})
}

func (store *LedgerStore) GetOrCreateOwner(ctx context.Context, ownerID restoration.OwnerID) (ledger.Owner, error) {
	return store.ensureOwner(ctx, store.db.WithContext(ctx), ownerID, errorCodeLookup)
}

// LockOwner creates the owner row if needed and reads it back under a row lock.
func (store *LedgerStore) LockOwner(ctx context.Context, ownerID restoration.OwnerID) (ledger.Owner, error) {
	return store.ensureOwner(ctx, store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), ownerID, errorCodeLock)
}

func (store *LedgerStore) ensureOwner(ctx context.Context, query *gorm.DB, ownerID restoration.OwnerID, code string) (ledger.Owner, error) {
	now := store.now()
	seed := Owner{OwnerID: ownerID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return ledger.Owner{}, wrapStoreError(errorSubjectOwner, errorCodeCreate, err)
	}
	var row Owner
	if err := query.Where("owner_id = ?", ownerID.String()).Take(&row).Error; err != nil {
		return ledger.Owner{}, wrapStoreError(errorSubjectOwner, code, err)
	}
	return mapOwner(row)
}

func (store *LedgerStore) UpdateOwnerBalance(ctx context.Context, ownerID restoration.OwnerID, balance ledger.BalanceCents) error {
	if _, err := ledger.NewBalanceCents(balance.Int64()); err != nil {
		return wrapStoreError(errorSubjectOwner, errorCodeInvalid, err)
	}
	return store.updateOwner(ctx, ownerID, map[string]any{"balance_cents": balance.Int64()})
}

func (store *LedgerStore) MarkSocialShareUsed(ctx context.Context, ownerID restoration.OwnerID) error {
	return store.updateOwner(ctx, ownerID, map[string]any{"social_share_used": true})
}

func (store *LedgerStore) updateOwner(ctx context.Context, ownerID restoration.OwnerID, values map[string]any) error {
	values["updated_at"] = store.now()
	result := store.db.WithContext(ctx).
		Model(&Owner{}).
		Where("owner_id = ?", ownerID.String()).
		Updates(values)
	if result.Error != nil {
		return wrapStoreError(errorSubjectOwner, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOwner, errorCodeUpdate, fmt.Errorf("owner %s not found", ownerID))
	}
	return nil
}

func (store *LedgerStore) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) error {
	entry := LedgerEntry{
		OwnerID:       entryInput.OwnerID().String(),
		Type:          entryInput.Type().String(),
		AmountCredits: entryInput.AmountCredits(),
		Metadata:      datatypesJSON(entryInput.MetadataJSON().String()),
		CreatedAt:     unixTime(entryInput.CreatedUnixUTC()),
	}
	if entryInput.CreatedUnixUTC() == 0 {
		entry.CreatedAt = store.now()
	}
	if ref := entryInput.PaymentRef(); !ref.IsZero() {
		value := ref.String()
		entry.PaymentRef = &value
	}
	if jobID := entryInput.JobID().String(); jobID != "" {
		entry.JobID = &jobID
	}
	err := store.db.WithContext(ctx).Create(&entry).Error
	if isUniqueViolation(err, constraintPaymentRef) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicatePaymentRef)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *LedgerStore) HasPaymentRef(ctx context.Context, ref ledger.PaymentRef) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("payment_ref = ?", ref.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *LedgerStore) ListEntries(ctx context.Context, ownerID restoration.OwnerID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("owner_id = ?", ownerID.String())
	if beforeUnixUTC > 0 {
		query = query.Where("created_at < ?", unixTime(beforeUnixUTC))
	}
	var rows []LedgerEntry
	if err := query.Order("created_at desc").Order("entry_id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetOwnedJob hides jobs that belong to someone else behind ErrJobNotFound.
func (store *LedgerStore) GetOwnedJob(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error) {
	return store.takeOwnedJob(store.db.WithContext(ctx), ownerID, jobID, errorCodeGet)
}

func (store *LedgerStore) LockOwnedJob(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error) {
	return store.takeOwnedJob(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), ownerID, jobID, errorCodeLock)
}

func (store *LedgerStore) takeOwnedJob(query *gorm.DB, ownerID restoration.OwnerID, jobID restoration.JobID, code string) (restoration.Job, error) {
	var row RestorationJob
	err := query.Where("job_id = ? AND owner_id = ?", jobID.String(), ownerID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, code, restoration.ErrJobNotFound)
	}
	if err != nil {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, code, err)
	}
	job, err := mapJob(row)
	if err != nil {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	return job, nil
}

// UnlockJob sets the unlock method and timestamp together, only on a locked job.
func (store *LedgerStore) UnlockJob(ctx context.Context, jobID restoration.JobID, method restoration.UnlockMethod, atUnixUTC int64) error {
	unlockedAt := unixTime(atUnixUTC)
	result := store.db.WithContext(ctx).
		Model(&RestorationJob{}).
		Where("job_id = ? AND unlock_method = ?", jobID.String(), restoration.UnlockNone.String()).
		Updates(map[string]any{
			"unlock_method": method.String(),
			"unlocked_at":   unlockedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeUnlock, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectJob, errorCodeUnlock, ledger.ErrAlreadyUnlocked)
	}
	return nil
}

func (store *LedgerStore) ListCreditPacks(ctx context.Context) ([]ledger.CreditPack, error) {
	var rows []CreditPack
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("credits asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPack, errorCodeList, err)
	}
	packs := make([]ledger.CreditPack, 0, len(rows))
	for _, row := range rows {
		pack, err := ledger.NewCreditPack(row.SKU, row.Credits, row.PriceCents, row.Active)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPack, errorCodeInvalid, err)
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (store *LedgerStore) GetCreditPack(ctx context.Context, sku string) (ledger.CreditPack, error) {
	var row CreditPack
	err := store.db.WithContext(ctx).Where("sku = ?", sku).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.CreditPack{}, wrapStoreError(errorSubjectPack, errorCodeGet, ledger.ErrUnknownCreditPack)
	}
	if err != nil {
		return ledger.CreditPack{}, wrapStoreError(errorSubjectPack, errorCodeGet, err)
	}
	pack, err := ledger.NewCreditPack(row.SKU, row.Credits, row.PriceCents, row.Active)
	if err != nil {
		return ledger.CreditPack{}, wrapStoreError(errorSubjectPack, errorCodeInvalid, err)
	}
	return pack, nil
}

func (store *LedgerStore) EnsureCreditPack(ctx context.Context, pack ledger.CreditPack) (bool, error) {
	validated, err := ledger.NewCreditPack(pack.SKU, pack.Credits.Int64(), pack.PriceCents, pack.Active)
	if err != nil {
		return false, wrapStoreError(errorSubjectPack, errorCodeInvalid, err)
	}
	row := CreditPack{
		SKU:        validated.SKU,
		Credits:    validated.Credits.Int64(),
		PriceCents: validated.PriceCents,
		Active:     validated.Active,
		CreatedAt:  store.now(),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sku"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectPack, errorCodeCreate, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func mapOwner(row Owner) (ledger.Owner, error) {
	ownerID, err := restoration.NewOwnerID(row.OwnerID)
	if err != nil {
		return ledger.Owner{}, wrapStoreError(errorSubjectOwner, errorCodeInvalid, err)
	}
	balance, err := ledger.NewBalanceCents(row.BalanceCents)
	if err != nil {
		return ledger.Owner{}, wrapStoreError(errorSubjectOwner, errorCodeInvalid, err)
	}
	return ledger.Owner{
		ID:              ownerID,
		Balance:         balance,
		FreePreviewUsed: row.FreePreviewUsed,
		SocialShareUsed: row.SocialShareUsed,
	}, nil
}

func mapEntry(row LedgerEntry) (ledger.Entry, error) {
	ownerID, err := restoration.NewOwnerID(row.OwnerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	entry := ledger.Entry{
		EntryID:        row.EntryID,
		OwnerID:        ownerID,
		Type:           entryType,
		AmountCredits:  row.AmountCredits,
		MetadataJSON:   metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
	if row.PaymentRef != nil {
		if entry.PaymentRef, err = ledger.NewPaymentRef(*row.PaymentRef); err != nil {
			return ledger.Entry{}, err
		}
	}
	if row.JobID != nil {
		if entry.JobID, err = restoration.NewJobID(*row.JobID); err != nil {
			return ledger.Entry{}, err
		}
	}
	return entry, nil
}
