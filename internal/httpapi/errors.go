package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-gonic/gin"
)

const (
	codeUnauthorized         = "unauthorized"
	codeNotFound             = "not_found"
	codeHistoryLimit         = "history_limit"
	codeValidation           = "validation_error"
	codeUploadFailed         = "upload_failed"
	codeInvalidState         = "invalid_state"
	codeAlreadyUnlocked      = "already_unlocked"
	codeInsufficientCredits  = "insufficient_credits"
	codeSocialShareUsed      = "social_share_used"
	codeShareNotInitiated    = "share_not_initiated"
	codeShareConfirmTooSoon  = "share_confirm_too_soon"
	codeShareFlowExpired     = "share_flow_expired"
	codeMissingShareToken    = "missing_share_token"
	codeInvalidShareToken    = "invalid_share_token"
	codeInvalidPlatform      = "invalid_platform"
	codeShareUnavailable     = "share_unavailable"
	codeUnknownCreditPack    = "unknown_credit_pack"
	codeInvalidPayload       = "invalid_payload"
	codeInvalidSignature     = "invalid_signature"
	codeServiceBusy          = "service_busy"
	codeForbidden            = "forbidden"
	codeInternal             = "internal_error"
	messageJobNotFound       = "Job not found"
	messageRestorationFailed = "Restoration failed"
)

type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	apiError
}{
	{restoration.ErrJobNotFound, apiError{http.StatusNotFound, codeNotFound, messageJobNotFound}},
	{restoration.ErrHistoryLimit, apiError{http.StatusForbidden, codeHistoryLimit, "Image limit reached. Delete or unlock one to continue"}},
	{restoration.ErrValidation, apiError{http.StatusBadRequest, codeValidation, "Invalid upload"}},
	{ledger.ErrInvalidState, apiError{http.StatusBadRequest, codeInvalidState, "Restoration not completed"}},
	{ledger.ErrAlreadyUnlocked, apiError{http.StatusConflict, codeAlreadyUnlocked, "Already unlocked"}},
	{ledger.ErrInsufficientCredits, apiError{http.StatusForbidden, codeInsufficientCredits, "Insufficient credits"}},
	{ledger.ErrSocialShareUsed, apiError{http.StatusForbidden, codeSocialShareUsed, "Social share unlock already used"}},
	{ledger.ErrShareNotInitiated, apiError{http.StatusBadRequest, codeShareNotInitiated, "Share was not initiated via server redirect"}},
	{ledger.ErrShareConfirmTooSoon, apiError{http.StatusBadRequest, codeShareConfirmTooSoon, "Please wait a moment before confirming"}},
	{ledger.ErrShareFlowExpired, apiError{http.StatusBadRequest, codeShareFlowExpired, "Share flow expired"}},
	{ledger.ErrInvalidShareToken, apiError{http.StatusBadRequest, codeInvalidShareToken, "Invalid share token"}},
	{ledger.ErrInvalidSharePlatform, apiError{http.StatusBadRequest, codeInvalidPlatform, "Invalid share platform"}},
	{ledger.ErrShareFlowDisabled, apiError{http.StatusServiceUnavailable, codeShareUnavailable, "Social share unlock is not available"}},
	{ledger.ErrUnknownCreditPack, apiError{http.StatusBadRequest, codeUnknownCreditPack, "Unknown credit pack"}},
	{ledger.ErrInvalidPaymentRef, apiError{http.StatusBadRequest, codeInvalidPayload, "Invalid payment reference"}},
	{ledger.ErrInvalidCredits, apiError{http.StatusBadRequest, codeInvalidPayload, "Invalid credits"}},
	{orchestrator.ErrQueueFull, apiError{http.StatusServiceUnavailable, codeServiceBusy, "Service is busy, please try again shortly"}},
	{blobstore.ErrInvalidSignature, apiError{http.StatusForbidden, codeForbidden, "Link expired or invalid"}},
	{blobstore.ErrNotFound, apiError{http.StatusNotFound, codeNotFound, "Image not found"}},
	{blobstore.ErrInvalidUpload, apiError{http.StatusNotFound, codeNotFound, "Image not found"}},
	{restoration.ErrInvalidJobID, apiError{http.StatusNotFound, codeNotFound, messageJobNotFound}},
}

func classifyError(err error) apiError {
	for _, candidate := range errorTable {
		if errors.Is(err, candidate.target) {
			return candidate.apiError
		}
	}
	return apiError{http.StatusInternalServerError, codeInternal, "Internal server error"}
}

// errorResponse renders {"error":{"code","message","details"}}; codes are upper-cased on the wire.
func errorResponse(code string, message string, details gin.H) gin.H {
	if details == nil {
		details = gin.H{}
	}
	return gin.H{
		"error": gin.H{
			"code":    strings.ToUpper(code),
			"message": message,
			"details": details,
		},
	}
}
