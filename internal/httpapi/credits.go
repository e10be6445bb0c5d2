package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type entryPayload struct {
	EntryID        string          `json:"id"`
	Type           string          `json:"transaction_type"`
	AmountCredits  int64           `json:"amount"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	JobID          string          `json:"restoration_job,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_at"`
}

type packPayload struct {
	SKU          string `json:"sku"`
	Credits      int64  `json:"credits"`
	PriceCents   int64  `json:"price_cents"`
	PriceDisplay string `json:"price_display"`
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	owner, err := handler.ledger.Balance(requestCtx, ownerID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"credit_balance":           owner.Balance.String(),
		"balance_cents":            owner.Balance.Int64(),
		"social_share_unlock_used": owner.SocialShareUsed,
	})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	limit, err := parseIntQuery(ctx, "limit", defaultEntriesLimit)
	if err != nil || limit <= 0 || limit > maxEntriesLimit {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "limit must be between 1 and 200", nil))
		return
	}
	before, err := parseIntQuery(ctx, "before", 0)
	if err != nil || before < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "before must be a unix timestamp", nil))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.ledger.ListEntries(requestCtx, ownerID, int64(before), limit)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			EntryID:        entry.EntryID,
			Type:           entry.Type.String(),
			AmountCredits:  entry.AmountCredits,
			PaymentRef:     entry.PaymentRef.String(),
			JobID:          entry.JobID.String(),
			Metadata:       json.RawMessage(entry.MetadataJSON.String()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleCreditPacks(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	packs, err := handler.ledger.CreditPacks(requestCtx)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	payload := make([]packPayload, 0, len(packs))
	for _, pack := range packs {
		payload = append(payload, packPayload{
			SKU:          pack.SKU,
			Credits:      pack.Credits.Int64(),
			PriceCents:   pack.PriceCents,
			PriceDisplay: pack.PriceDisplay(),
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func parseIntQuery(ctx *gin.Context, name string, fallback int) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
