package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/imaging"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const uploadFormField = "image"

var errNoImage = errors.New("no image provided")

type jobPayload struct {
	JobID          string  `json:"id"`
	OriginalURL    string  `json:"original_image_url"`
	PreviewURL     *string `json:"restored_preview_url"`
	FullURL        *string `json:"restored_full_url"`
	Status         string  `json:"status"`
	UnlockMethod   string  `json:"unlock_method"`
	UnlockedAt     *int64  `json:"unlocked_at"`
	IsUnlocked     bool    `json:"is_unlocked"`
	CreatedUnixUTC int64   `json:"created_at"`
	ExpiresUnixUTC int64   `json:"expires_at"`
}

func (handler *httpHandler) handleUpload(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	active, err := handler.jobs.History(requestCtx, ownerID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	if len(active) >= handler.jobs.ActiveJobLimit() {
		handler.respondError(ctx, restoration.ErrHistoryLimit, gin.H{"max_jobs": handler.jobs.ActiveJobLimit()})
		return
	}

	data, err := readUpload(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeValidation, "Invalid upload", gin.H{uploadFormField: []string{err.Error()}}))
		return
	}
	if _, err := imaging.ValidateUpload(data); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeValidation, "Invalid upload", gin.H{uploadFormField: []string{validationMessage(err)}}))
		return
	}
	normalized, err := imaging.NormalizeOriginal(data)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeValidation, "Invalid upload", gin.H{uploadFormField: []string{validationMessage(err)}}))
		return
	}
	original, err := handler.blobs.Upload(requestCtx, normalized, blobstore.UploadOptions{
		Folder:      blobstore.FolderOriginals,
		Visibility:  blobstore.VisibilityPublic,
		ContentType: "image/jpeg",
		Extension:   "jpg",
	})
	if err != nil {
		handler.logger.Error("original upload failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(codeUploadFailed, "Failed to upload image", nil))
		return
	}

	job, err := handler.jobs.Create(requestCtx, ownerID, original.URL)
	if err != nil {
		if destroyErr := handler.blobs.Destroy(requestCtx, original.ID, blobstore.VisibilityPublic); destroyErr != nil {
			handler.logger.Warn("orphaned original cleanup failed", zap.String("blob_id", original.ID), zap.Error(destroyErr))
		}
		var details gin.H
		if errors.Is(err, restoration.ErrHistoryLimit) {
			details = gin.H{"max_jobs": handler.jobs.ActiveJobLimit()}
		}
		handler.respondError(ctx, err, details)
		return
	}
	if err := handler.orchestrator.Enqueue(requestCtx, job); err != nil {
		handler.logger.Warn("start not queued", zap.String("job_id", job.ID.String()), zap.Error(err))
		handler.respondError(ctx, err, gin.H{"job_id": job.ID.String()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"job_id": job.ID.String(), "status": job.Status.String()})
}

func (handler *httpHandler) handleStatus(ctx *gin.Context) {
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
	job, err := handler.jobs.GetForOwner(requestCtx, ownerID, jobID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	response := gin.H{
		"job_id":      job.ID.String(),
		"status":      job.Status.String(),
		"preview_url": nil,
		"error":       nil,
	}
	switch job.Status {
	case restoration.StatusCompleted:
		response["preview_url"] = job.PreviewURL
	case restoration.StatusFailed:
		response["error"] = messageRestorationFailed
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	ownerID, ok := ownerOrAbort(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	jobs, err := handler.jobs.History(requestCtx, ownerID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	payload := make([]jobPayload, 0, len(jobs))
	for _, job := range jobs {
		entry := jobPayload{
			JobID:          job.ID.String(),
			OriginalURL:    job.OriginalURL,
			Status:         job.Status.String(),
			UnlockMethod:   job.UnlockMethod.String(),
			IsUnlocked:     job.IsUnlocked(),
			CreatedUnixUTC: job.CreatedUnixUTC,
			ExpiresUnixUTC: job.ExpiresUnixUTC,
		}
		if job.PreviewURL != "" {
			preview := job.PreviewURL
			entry.PreviewURL = &preview
		}
		if job.IsUnlocked() {
			unlockedAt := job.UnlockedUnixUTC
			entry.UnlockedAt = &unlockedAt
			if job.FullURL != "" {
				signed, err := handler.blobs.SignedURL(requestCtx, job.FullURL)
				if err != nil {
					handler.respondError(ctx, err, nil)
					return
				}
				entry.FullURL = &signed
			}
		}
		payload = append(payload, entry)
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleDelete(ctx *gin.Context) {
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
	job, err := handler.jobs.GetForOwner(requestCtx, ownerID, jobID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	if _, err := handler.purger.Purge(requestCtx, job); err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Job deleted successfully", "status": "ok"})
}

func readUpload(ctx *gin.Context) ([]byte, error) {
	fileHeader, err := ctx.FormFile(uploadFormField)
	if err != nil {
		return nil, errNoImage
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, imaging.MaxUploadBytes+1))
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), restoration.ErrValidation.Error()+": ")
}
