package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-gonic/gin"
)

const shareTokenQueryParam = "s"

func (handler *httpHandler) handleUnlock(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	jobID, ok := handler.jobIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.ledger.UnlockWithCredits(requestCtx, ownerID, jobID)
	if err != nil {
		handler.respondError(ctx, err, handler.unlockErrorDetails(ctx, ownerID, jobID, err))
		return
	}
	fullURL, err := handler.blobs.SignedURL(requestCtx, result.FullURL)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"full_image_url":    fullURL,
		"credits_remaining": result.Balance.String(),
	})
}

func (handler *httpHandler) handleShareInit(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	jobID, ok := handler.jobIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	invitation, err := handler.ledger.ShareInit(requestCtx, ownerID, jobID)
	if err != nil {
		handler.respondError(ctx, err, handler.unlockErrorDetails(ctx, ownerID, jobID, err))
		return
	}
	response := gin.H{
		"referral_url": invitation.ReferralURL,
		"instagram":    invitation.Instagram,
		"expires_at":   invitation.ExpiresUnixUTC,
	}
	for _, platform := range ledger.RedirectPlatforms() {
		response[platform.String()] = handler.shareRedirectURL(jobID, platform, invitation.Token)
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleShareRedirect(ctx *gin.Context) {
	token := ctx.Query(shareTokenQueryParam)
	if token == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeMissingShareToken, "Missing share token", nil))
		return
	}
	jobID, ok := handler.jobIDParam(ctx)
	if !ok {
		return
	}
	platform, err := ledger.ParseSharePlatform(ctx.Param("platform"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	target, err := handler.ledger.ShareRedirect(requestCtx, jobID, platform, token)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.Header("Referrer-Policy", "no-referrer")
	ctx.Redirect(http.StatusFound, target)
}

func (handler *httpHandler) handleShareConfirm(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	jobID, ok := handler.jobIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	fullURL, err := handler.ledger.ConfirmShare(requestCtx, ownerID, jobID)
	if err != nil {
		handler.respondError(ctx, err, handler.unlockErrorDetails(ctx, ownerID, jobID, err))
		return
	}
	signed, err := handler.blobs.SignedURL(requestCtx, fullURL)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"full_image_url": signed})
}

// unlockErrorDetails adds the context clients render next to unlock failures.
func (handler *httpHandler) unlockErrorDetails(ctx *gin.Context, ownerID restoration.OwnerID, jobID restoration.JobID, err error) gin.H {
	switch {
	case errors.Is(err, ledger.ErrInvalidState):
		job, lookupErr := handler.jobs.GetForOwner(ctx.Request.Context(), ownerID, jobID)
		if lookupErr != nil {
			return nil
		}
		return gin.H{"status": job.Status.String()}
	case errors.Is(err, ledger.ErrInsufficientCredits):
		owner, lookupErr := handler.ledger.Balance(ctx.Request.Context(), ownerID)
		if lookupErr != nil {
			return nil
		}
		return gin.H{"credits_available": owner.Balance.String()}
	default:
		return nil
	}
}

func (handler *httpHandler) shareRedirectURL(jobID restoration.JobID, platform ledger.SharePlatform, token string) string {
	values := url.Values{}
	values.Set(shareTokenQueryParam, token)
	return fmt.Sprintf("%s/api/restorations/%s/share-redirect/%s?%s",
		handler.cfg.PublicAPIURL, url.PathEscape(jobID.String()), platform.String(), values.Encode())
}
