package ledger

const (
	operationUnlock       = "unlock"
	operationPurchase     = "purchase"
	operationRefund       = "refund"
	operationShareInit    = "share_init"
	operationShareConfirm = "share_confirm"
	operationShareVisit   = "share_redirect"
	operationSeedPack     = "seed_pack"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusSkipped = "skipped"

	centsPerCredit int64 = 100
	// UnlockCostCredits is the price of releasing one full-resolution result.
	UnlockCostCredits int64 = 1

	// DefaultShareTTLSeconds bounds how long a share flow stays redeemable.
	DefaultShareTTLSeconds int64 = 10 * 60
	// DefaultEntryPageSize is used when callers pass a non-positive limit.
	DefaultEntryPageSize = 50

	shareStateKeyPrefix = "social_share"
)
