package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/reviv/internal/sharestate"
	"github.com/MarkoPoloResearchLab/reviv/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/sweeper"
	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testSigningKey    = "session-signing-key"
	testWebhookSecret = "payment-webhook-secret"
	testPublicAPIURL  = "https://api.reviv.test"
	testMediaURL      = "https://media.reviv.test"
	testStartUnix     = int64(1_700_000_000)
	testConfirmDelay  = int64(5)
)

type testClock struct {
	unix atomic.Int64
}

func (clock *testClock) nowUnix() int64 {
	return clock.unix.Load()
}

func (clock *testClock) now() time.Time {
	return time.Unix(clock.unix.Load(), 0).UTC()
}

func (clock *testClock) advance(seconds int64) {
	clock.unix.Add(seconds)
}

type stubOrchestrator struct {
	mu        sync.Mutex
	busy      bool
	enqueued  []restoration.JobID
	callbacks []restoration.TaskID
}

func (stub *stubOrchestrator) Enqueue(_ context.Context, job restoration.Job) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.busy {
		return orchestrator.ErrQueueFull
	}
	stub.enqueued = append(stub.enqueued, job.ID)
	return nil
}

func (stub *stubOrchestrator) HandleCallback(payload map[string]any) (restoration.TaskID, error) {
	taskID, err := restoration.NewTaskID(enhancer.ExtractTaskID(payload))
	if err != nil {
		return restoration.TaskID{}, orchestrator.ErrMissingTaskID
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.busy {
		return taskID, orchestrator.ErrQueueFull
	}
	stub.callbacks = append(stub.callbacks, taskID)
	return taskID, nil
}

func (stub *stubOrchestrator) setBusy(busy bool) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.busy = busy
}

func (stub *stubOrchestrator) counts() (int, int) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.enqueued), len(stub.callbacks)
}

type harness struct {
	router       *gin.Engine
	cfg          Config
	clock        *testClock
	jobs         *restoration.Service
	ledger       *ledger.Service
	blobs        *blobstore.LocalStore
	orchestrator *stubOrchestrator
	validator    *SessionValidator
	owner        restoration.OwnerID
}

type harnessOption func(*Config, *Dependencies)

func withCallbackToken(token string) harnessOption {
	return func(cfg *Config, _ *Dependencies) {
		cfg.CallbackToken = token
	}
}

func withHealth(checks map[string]HealthCheck) harnessOption {
	return func(_ *Config, deps *Dependencies) {
		deps.Health = checks
	}
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/reviv.db"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gormstore.Models()...))

	clock := &testClock{}
	clock.unix.Store(testStartUnix)

	jobs, err := restoration.NewService(gormstore.NewJobStore(db), clock.nowUnix)
	require.NoError(t, err)
	signer, err := ledger.NewShareTokenSigner([]byte("share-signing-key"), 0, clock.now)
	require.NoError(t, err)
	ledgerService, err := ledger.NewService(gormstore.NewLedgerStore(db), clock.nowUnix,
		ledger.WithShareFlow(sharestate.NewMemoryStore(clock.now), signer, ledger.NewShareLinks("https://reviv.test")),
		ledger.WithShareConfirmDelay(testConfirmDelay),
	)
	require.NoError(t, err)
	_, err = ledgerService.SeedCreditPacks(context.Background(), ledger.DefaultCreditPacks())
	require.NoError(t, err)

	blobs, err := blobstore.NewLocalStore(t.TempDir(), testMediaURL,
		blobstore.WithURLSigning([]byte(testSigningKey), 0, clock.now))
	require.NoError(t, err)
	purger, err := sweeper.New(jobs, blobs)
	require.NoError(t, err)

	stub := &stubOrchestrator{}
	cfg := Config{
		PublicAPIURL:         testPublicAPIURL,
		JWTSigningKey:        testSigningKey,
		PaymentWebhookSecret: testWebhookSecret,
	}
	deps := Dependencies{
		Jobs:         jobs,
		Ledger:       ledgerService,
		Orchestrator: stub,
		Blobs:        blobs,
		Purger:       purger,
	}
	for _, option := range options {
		option(&cfg, &deps)
	}
	router, err := NewRouter(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	owner, err := restoration.NewOwnerID("owner-1")
	require.NoError(t, err)
	return &harness{
		router:       router,
		cfg:          cfg,
		clock:        clock,
		jobs:         jobs,
		ledger:       ledgerService,
		blobs:        blobs,
		orchestrator: stub,
		validator:    NewSessionValidator(cfg),
		owner:        owner,
	}
}

func (h *harness) sessionFor(t *testing.T, ownerID restoration.OwnerID) string {
	t.Helper()
	token, err := h.validator.Issue(ownerID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, request *http.Request, ownerID *restoration.OwnerID) *httptest.ResponseRecorder {
	t.Helper()
	if ownerID != nil {
		request.Header.Set("Authorization", bearerPrefix+h.sessionFor(t, *ownerID))
	}
	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, request)
	return recorder
}

func (h *harness) asOwner(t *testing.T, method string, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, body)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return h.do(t, request, &h.owner)
}

// requireSignedFullURL checks that got is job's private artifact URL carrying a valid access token.
func (h *harness) requireSignedFullURL(t *testing.T, job restoration.Job, got any) {
	t.Helper()
	signed, ok := got.(string)
	require.True(t, ok, "expected a signed url, got %v", got)
	base, rawQuery, found := strings.Cut(signed, "?")
	require.True(t, found, signed)
	require.Equal(t, job.FullURL, base)
	query, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	id, ok := h.blobs.IdentifierFromURL(job.FullURL)
	require.True(t, ok)
	_, err = h.blobs.ResolvePrivate(id, query.Get(blobstore.SignedURLTokenParam))
	require.ErrorIs(t, err, blobstore.ErrNotFound, "token should verify; the artifact file itself is absent")
}

// completedJob creates a job for owner and drives it to completed with artifacts under the media host.
func (h *harness) completedJob(t *testing.T, ownerID restoration.OwnerID) restoration.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.jobs.Create(ctx, ownerID, testMediaURL+"/public/originals/source.jpg")
	require.NoError(t, err)
	taskID, err := restoration.NewTaskID("task-" + job.ID.String())
	require.NoError(t, err)
	require.NoError(t, h.jobs.AttachTask(ctx, job.ID, taskID))
	moved, err := h.jobs.TransitionToProcessing(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, moved)
	won, err := h.jobs.MarkCompleted(ctx, job.ID,
		testMediaURL+"/public/previews/"+job.ID.String()+".jpg",
		testMediaURL+"/private/results/"+job.ID.String()+".png")
	require.NoError(t, err)
	require.True(t, won)
	completed, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	return completed
}

func (h *harness) grantCredits(t *testing.T, ownerID restoration.OwnerID, ref string, amount int64) {
	t.Helper()
	paymentRef, err := ledger.NewPaymentRef(ref)
	require.NoError(t, err)
	credits, err := ledger.NewCredits(amount)
	require.NoError(t, err)
	_, err = h.ledger.Purchase(context.Background(), ownerID, paymentRef, credits, ledger.MetadataJSON{})
	require.NoError(t, err)
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload), recorder.Body.String())
	return payload
}

func decodeList(t *testing.T, recorder *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload), recorder.Body.String())
	return payload
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decodeBody(t, recorder)
	envelope, ok := payload["error"].(map[string]any)
	require.True(t, ok, recorder.Body.String())
	code, _ := envelope["code"].(string)
	return code
}

func errorDetails(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	envelope, ok := decodeBody(t, recorder)["error"].(map[string]any)
	require.True(t, ok, recorder.Body.String())
	details, _ := envelope["details"].(map[string]any)
	return details
}

func encodePNG(t *testing.T, width int, height int) []byte {
	t.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			canvas.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, canvas))
	return buffer.Bytes()
}

func uploadRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "photo.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	request := httptest.NewRequest(http.MethodPost, "/api/restorations", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func signedPaymentRequest(t *testing.T, body string, secret string) *http.Request {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(paymentSignatureHeader, SignPayload(secret, []byte(body)))
	return request
}
