package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxWebhookBodyBytes       = 1 << 20
	callbackTokenQueryParam   = "token"
	callbackRetryAfterSeconds = "30"
	paymentSignatureHeader    = "X-Reviv-Signature"
	paymentSignaturePrefix    = "sha256="
	paymentEventCompleted     = "checkout.session.completed"
	paymentMetadataSourceKey  = "source"
)

type paymentEvent struct {
	Type       string `json:"type"`
	PaymentRef string `json:"payment_ref"`
	UserID     string `json:"user_id"`
	Credits    int64  `json:"credits"`
	SKU        string `json:"sku"`
}

// handleEnhancerCallback acknowledges immediately; reconciliation runs on the executor.
func (handler *httpHandler) handleEnhancerCallback(ctx *gin.Context) {
	if handler.cfg.CallbackToken != "" {
		supplied := ctx.Query(callbackTokenQueryParam)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(handler.cfg.CallbackToken)) != 1 {
			ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "invalid callback token", nil))
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	payload, err := enhancer.DecodePayload(body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	taskID, err := handler.orchestrator.HandleCallback(payload)
	if errors.Is(err, orchestrator.ErrQueueFull) {
		// The provider redelivers on 5xx.
		ctx.Header("Retry-After", callbackRetryAfterSeconds)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	handler.logger.Info("enhancer callback accepted", zap.String("task_id", taskID.String()))
	ctx.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handlePaymentEvent credits the owner for a verified checkout; replays are acknowledged without effect.
func (handler *httpHandler) handlePaymentEvent(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.Status(http.StatusBadRequest)
		return
	}
	if !validSignature(handler.cfg.PaymentWebhookSecret, body, ctx.GetHeader(paymentSignatureHeader)) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidSignature, "invalid payment signature", nil))
		return
	}
	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body", nil))
		return
	}
	if event.Type != paymentEventCompleted {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	ownerID, err := restoration.NewOwnerID(event.UserID)
	if err != nil {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	creditAmount := event.Credits
	if creditAmount == 0 && event.SKU != "" {
		pack, err := handler.ledger.CreditPack(requestCtx, event.SKU)
		if err != nil {
			handler.respondError(ctx, err, nil)
			return
		}
		creditAmount = pack.Credits.Int64()
	}
	if creditAmount == 0 {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	credits, err := ledger.NewCredits(creditAmount)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	paymentRef, err := ledger.NewPaymentRef(event.PaymentRef)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	metadata, err := paymentMetadata(event)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	result, err := handler.ledger.Purchase(requestCtx, ownerID, paymentRef, credits, metadata)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"applied":        result.Applied,
		"credit_balance": result.Balance.String(),
	})
}

func paymentMetadata(event paymentEvent) (ledger.MetadataJSON, error) {
	fields := map[string]string{paymentMetadataSourceKey: "payment_webhook"}
	if event.SKU != "" {
		fields["sku"] = event.SKU
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return ledger.MetadataJSON{}, err
	}
	return ledger.NewMetadataJSON(string(raw))
}

// SignPayload renders the signature header value for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return paymentSignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, paymentSignaturePrefix) {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(header)))
}
