package httpapi

import (
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/gin-gonic/gin"
)

// handlePrivateMedia serves a full-resolution artifact to holders of a signed URL.
func (handler *httpHandler) handlePrivateMedia(ctx *gin.Context) {
	id := strings.TrimPrefix(ctx.Param("id"), "/")
	target, err := handler.media.ResolvePrivate(id, ctx.Query(blobstore.SignedURLTokenParam))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.Header("Cache-Control", "private, no-store")
	ctx.Header("Referrer-Policy", "no-referrer")
	ctx.File(target)
}
