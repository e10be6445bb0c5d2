// Package httpapi exposes restoration jobs, unlocks, credits and provider callbacks over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobService is the job lifecycle surface used by the handlers.
type JobService interface {
	Create(ctx context.Context, ownerID restoration.OwnerID, originalURL string) (restoration.Job, error)
	GetForOwner(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error)
	History(ctx context.Context, ownerID restoration.OwnerID) ([]restoration.Job, error)
	ActiveJobLimit() int
}

// LedgerService is the credit and unlock surface used by the handlers.
type LedgerService interface {
	Balance(ctx context.Context, ownerID restoration.OwnerID) (ledger.Owner, error)
	UnlockWithCredits(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (ledger.UnlockResult, error)
	ShareInit(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (ledger.ShareInvitation, error)
	ShareRedirect(ctx context.Context, jobID restoration.JobID, platform ledger.SharePlatform, token string) (string, error)
	ConfirmShare(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (string, error)
	Purchase(ctx context.Context, ownerID restoration.OwnerID, paymentRef ledger.PaymentRef, credits ledger.Credits, metadata ledger.MetadataJSON) (ledger.PurchaseResult, error)
	ListEntries(ctx context.Context, ownerID restoration.OwnerID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error)
	CreditPacks(ctx context.Context) ([]ledger.CreditPack, error)
	CreditPack(ctx context.Context, sku string) (ledger.CreditPack, error)
}

// Orchestrator schedules provider work for new jobs and incoming callbacks.
type Orchestrator interface {
	Enqueue(ctx context.Context, job restoration.Job) error
	HandleCallback(payload map[string]any) (restoration.TaskID, error)
}

// Purger releases a job's artifacts and deletes it.
type Purger interface {
	Purge(ctx context.Context, job restoration.Job) (int, error)
}

// HealthCheck reports one dependency's readiness.
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators behind the API.
type Dependencies struct {
	Jobs         JobService
	Ledger       LedgerService
	Orchestrator Orchestrator
	Blobs        blobstore.Store
	Purger       Purger
	Health       map[string]HealthCheck
	Logger       *zap.Logger
	// LocalMedia, when set, is served under MediaPath for the local blob backend.
	LocalMedia LocalMedia
}

// LocalMedia exposes the on-disk artifacts of the local blob backend.
type LocalMedia interface {
	PublicDir() string
	ResolvePrivate(id string, token string) (string, error)
}

// MediaPath is where LocalMedia is mounted.
const MediaPath = "/media"

func (deps Dependencies) validate() error {
	if deps.Jobs == nil || deps.Ledger == nil || deps.Orchestrator == nil || deps.Blobs == nil || deps.Purger == nil {
		return fmt.Errorf("%w: http dependencies are required", restoration.ErrInvalidServiceConfig)
	}
	return nil
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:       deps.Logger,
		jobs:         deps.Jobs,
		ledger:       deps.Ledger,
		orchestrator: deps.Orchestrator,
		blobs:        deps.Blobs,
		purger:       deps.Purger,
		health:       deps.Health,
		cfg:          cfg,
	}
	router := setupRouter(cfg, handler, NewSessionValidator(cfg))
	if deps.LocalMedia != nil {
		handler.media = deps.LocalMedia
		router.Static(MediaPath+"/public", deps.LocalMedia.PublicDir())
		router.GET(MediaPath+"/private/*id", handler.handlePrivateMedia)
	}
	return router, nil
}

func setupRouter(cfg Config, handler *httpHandler, validator *SessionValidator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", handler.handleHealth)

	public := router.Group("/api")
	public.GET("/restorations/:id/share-redirect/:platform", handler.handleShareRedirect)
	public.GET("/credits/packs", handler.handleCreditPacks)
	public.POST("/webhooks/enhancer", handler.handleEnhancerCallback)
	public.POST("/webhooks/payments", handler.handlePaymentEvent)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware())
	api.POST("/restorations", handler.handleUpload)
	api.GET("/restorations", handler.handleHistory)
	api.GET("/restorations/:id", handler.handleStatus)
	api.DELETE("/restorations/:id", handler.handleDelete)
	api.POST("/restorations/:id/unlock", handler.handleUnlock)
	api.POST("/restorations/:id/share", handler.handleShareInit)
	api.POST("/restorations/:id/share/confirm", handler.handleShareConfirm)
	api.GET("/credits", handler.handleBalance)
	api.GET("/credits/transactions", handler.handleTransactions)

	return router
}

type httpHandler struct {
	logger       *zap.Logger
	jobs         JobService
	ledger       LedgerService
	orchestrator Orchestrator
	media        LocalMedia
	blobs        blobstore.Store
	purger       Purger
	health       map[string]HealthCheck
	cfg          Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// respondError writes the mapped error; unexpected errors are logged.
func (handler *httpHandler) respondError(ctx *gin.Context, err error, details gin.H) {
	mapped := classifyError(err)
	if mapped.status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(mapped.status, errorResponse(mapped.code, mapped.message, details))
}

func (handler *httpHandler) handleHealth(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	checks := gin.H{}
	healthy := true
	for name, check := range handler.health {
		if err := check(requestCtx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": checks})
}

func ownerOrAbort(ctx *gin.Context) (restoration.OwnerID, bool) {
	ownerID, ok := getOwner(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, errMissingSession.Error(), nil))
	}
	return ownerID, ok
}

func (handler *httpHandler) jobIDParam(ctx *gin.Context) (restoration.JobID, bool) {
	jobID, err := restoration.NewJobID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, errorResponse(codeNotFound, messageJobNotFound, nil))
		return restoration.JobID{}, false
	}
	return jobID, true
}
