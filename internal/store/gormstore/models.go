package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Owner represents the owners table.
type Owner struct {
	OwnerID         string    `gorm:"primaryKey"`
	BalanceCents    int64     `gorm:"not null"`
	FreePreviewUsed bool      `gorm:"not null"`
	SocialShareUsed bool      `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Owner) TableName() string { return "owners" }

// RestorationJob mirrors the restoration_jobs table.
type RestorationJob struct {
	JobID        string     `gorm:"primaryKey"`
	OwnerID      string     `gorm:"not null;index:idx_jobs_owner_expires,priority:1"`
	OriginalURL  string     `gorm:"type:text;not null"`
	PreviewURL   string     `gorm:"type:text"`
	FullURL      string     `gorm:"type:text"`
	TaskID       *string    `gorm:"uniqueIndex:uniq_jobs_task_id"`
	Status       string     `gorm:"not null;index:idx_jobs_status_created,priority:1"`
	UnlockMethod string     `gorm:"not null"`
	UnlockedAt   *time.Time `gorm:""`
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_jobs_status_created,priority:2"`
	UpdatedAt    time.Time  `gorm:"not null"`
	ExpiresAt    time.Time  `gorm:"not null;index:idx_jobs_owner_expires,priority:2;index:idx_jobs_expires"`
}

func (RestorationJob) TableName() string { return "restoration_jobs" }

func (job *RestorationJob) BeforeCreate(tx *gorm.DB) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID       string         `gorm:"type:uuid;primaryKey"`
	OwnerID       string         `gorm:"not null;index:idx_ledger_owner_created,priority:1"`
	Type          string         `gorm:"not null"`
	AmountCredits int64          `gorm:"not null"`
	PaymentRef    *string        `gorm:"uniqueIndex:uniq_ledger_payment_ref"`
	JobID         *string        `gorm:"index:idx_ledger_job"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_ledger_owner_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// CreditPack mirrors the credit_packs table.
type CreditPack struct {
	SKU        string    `gorm:"primaryKey"`
	Credits    int64     `gorm:"not null"`
	PriceCents int64     `gorm:"not null"`
	Active     bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (CreditPack) TableName() string { return "credit_packs" }

// Models lists every table managed by this package, in migration order.
func Models() []any {
	return []any{&Owner{}, &RestorationJob{}, &LedgerEntry{}, &CreditPack{}}
}
