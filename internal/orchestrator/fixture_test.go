package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/internal/imaging"
	"github.com/MarkoPoloResearchLab/reviv/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	resultURL = "https://files.provider.example/result.png"
	testWait  = 2 * time.Second
	testTick  = 5 * time.Millisecond
)

type fakeProvider struct {
	mu          sync.Mutex
	taskID      string
	createErr   error
	callback    bool
	details     []enhancer.Detail
	createCalls int
	recordCalls int
	lastRequest enhancer.TaskRequest
}

func (provider *fakeProvider) CreateTask(_ context.Context, request enhancer.TaskRequest) (restoration.TaskID, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.createCalls++
	provider.lastRequest = request
	if provider.createErr != nil {
		return restoration.TaskID{}, provider.createErr
	}
	return restoration.NewTaskID(provider.taskID)
}

func (provider *fakeProvider) RecordInfo(_ context.Context, taskID restoration.TaskID) (enhancer.Detail, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.recordCalls++
	if len(provider.details) == 0 {
		return enhancer.Detail{TaskID: taskID.String(), Outcome: enhancer.OutcomePending}, nil
	}
	next := provider.details[0]
	provider.details = provider.details[1:]
	next.TaskID = taskID.String()
	return next, nil
}

func (provider *fakeProvider) UsesCallback() bool {
	return provider.callback
}

func (provider *fakeProvider) calls() (int, int) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.createCalls, provider.recordCalls
}

type fakeFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (fetcher *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	fetcher.calls++
	if fetcher.err != nil {
		return nil, fetcher.err
	}
	return fetcher.body, nil
}

func (fetcher *fakeFetcher) count() int {
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	return fetcher.calls
}

type virtualClock struct {
	mu      sync.Mutex
	current time.Time
}

func (clock *virtualClock) now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.current
}

func (clock *virtualClock) sleep(_ context.Context, delay time.Duration) error {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(delay)
	return nil
}

type fixture struct {
	jobs         *restoration.Service
	provider     *fakeProvider
	fetcher      *fakeFetcher
	blobs        *blobstore.LocalStore
	finalizer    *Finalizer
	orchestrator *Orchestrator
	owner        restoration.OwnerID
}

func newFixture(t *testing.T, provider *fakeProvider) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/reviv.db"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gormstore.Models()...))

	jobs, err := restoration.NewService(gormstore.NewJobStore(db), func() int64 { return 1_700_000_000 })
	require.NoError(t, err)
	blobs, err := blobstore.NewLocalStore(t.TempDir(), "https://media.example.com")
	require.NoError(t, err)
	clock := &virtualClock{current: time.Unix(1_700_000_000, 0)}
	poller := enhancer.NewPoller(provider, enhancer.WithPollClock(clock.now, clock.sleep), enhancer.WithPollCeiling(120*time.Second))
	fetcher := &fakeFetcher{body: encodeResult(t)}
	finalizer, err := NewFinalizer(jobs, provider, poller, fetcher, imaging.NewProcessor(imaging.WithPreviewMaxEdge(64)), blobs, nil)
	require.NoError(t, err)
	orchestrator, err := New(jobs, provider, finalizer, SyncExecutor{}, Config{}, nil)
	require.NoError(t, err)
	owner, err := restoration.NewOwnerID("owner-1")
	require.NoError(t, err)
	return fixture{
		jobs:         jobs,
		provider:     provider,
		fetcher:      fetcher,
		blobs:        blobs,
		finalizer:    finalizer,
		orchestrator: orchestrator,
		owner:        owner,
	}
}

func (fixture fixture) withExecutor(t *testing.T, executor Executor) *Orchestrator {
	t.Helper()
	orchestrator, err := New(fixture.jobs, fixture.provider, fixture.finalizer, executor, Config{}, nil)
	require.NoError(t, err)
	return orchestrator
}

func (fixture fixture) createJob(t *testing.T, originalURL string) restoration.Job {
	t.Helper()
	job, err := fixture.jobs.Create(context.Background(), fixture.owner, originalURL)
	require.NoError(t, err)
	return job
}

func (fixture fixture) reload(t *testing.T, jobID restoration.JobID) restoration.Job {
	t.Helper()
	job, err := fixture.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

// processingJob creates a job that has been submitted as task-1.
func (fixture fixture) processingJob(t *testing.T) (restoration.Job, restoration.TaskID) {
	t.Helper()
	job := fixture.createJob(t, "https://cdn.example.com/public/reviv/originals/a.jpg")
	taskID, err := restoration.NewTaskID("task-1")
	require.NoError(t, err)
	require.NoError(t, fixture.jobs.AttachTask(context.Background(), job.ID, taskID))
	moved, err := fixture.jobs.TransitionToProcessing(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, moved)
	return fixture.reload(t, job.ID), taskID
}

func (fixture fixture) countBlobs(t *testing.T, visibility blobstore.Visibility) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(filepath.Join(fixture.blobs.Root(), string(visibility)), func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func encodeResult(t *testing.T) []byte {
	t.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			canvas.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y * 2), B: 120, A: 255})
		}
	}
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, canvas))
	return buffer.Bytes()
}

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	payload, err := enhancer.DecodePayload([]byte(raw))
	require.NoError(t, err)
	return payload
}

var errProviderDown = errors.New("provider down")
