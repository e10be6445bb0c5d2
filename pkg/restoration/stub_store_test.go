package restoration

import (
	"context"
	"sort"
	"sync"
	"testing"
)

type stubStore struct {
	mu   sync.Mutex
	jobs map[JobID]Job
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{jobs: map[JobID]Job{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) CreateJob(_ context.Context, job Job) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.jobs[job.ID] = job
	return nil
}

func (store *stubStore) GetJob(_ context.Context, jobID JobID) (Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (store *stubStore) LockJob(ctx context.Context, jobID JobID) (Job, error) {
	return store.GetJob(ctx, jobID)
}

func (store *stubStore) FindJobByTaskID(_ context.Context, taskID TaskID) (Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, job := range store.jobs {
		if job.TaskID == taskID {
			return job, nil
		}
	}
	return Job{}, ErrJobNotFound
}

func (store *stubStore) AttachTask(_ context.Context, jobID JobID, taskID TaskID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.TaskID = taskID
	store.jobs[jobID] = job
	return nil
}

func (store *stubStore) UpdateStatus(_ context.Context, jobID JobID, from Status, to Status) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	store.jobs[jobID] = job
	return true, nil
}

func (store *stubStore) CompleteJob(_ context.Context, jobID JobID, previewURL string, fullURL string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	job := store.jobs[jobID]
	job.Status = StatusCompleted
	job.PreviewURL = previewURL
	job.FullURL = fullURL
	job.ErrorMessage = ""
	store.jobs[jobID] = job
	return nil
}

func (store *stubStore) FailJob(_ context.Context, jobID JobID, message string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok || job.Status == StatusCompleted {
		return nil
	}
	job.Status = StatusFailed
	job.ErrorMessage = message
	store.jobs[jobID] = job
	return nil
}

func (store *stubStore) DeleteJob(_ context.Context, jobID JobID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.jobs, jobID)
	return nil
}

func (store *stubStore) CountActiveJobs(_ context.Context, ownerID OwnerID, atUnixUTC int64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	for _, job := range store.jobs {
		if job.OwnerID == ownerID && job.IsActive(atUnixUTC) {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) ListActiveJobs(_ context.Context, ownerID OwnerID, atUnixUTC int64, limit int) ([]Job, error) {
	return store.filter(limit, func(job Job) bool {
		return job.OwnerID == ownerID && job.IsActive(atUnixUTC)
	}), nil
}

func (store *stubStore) ListExpiredJobs(_ context.Context, atUnixUTC int64, limit int) ([]Job, error) {
	return store.filter(limit, func(job Job) bool {
		return job.ExpiresUnixUTC < atUnixUTC
	}), nil
}

func (store *stubStore) ListFailedJobsBefore(_ context.Context, cutoffUnixUTC int64, limit int) ([]Job, error) {
	return store.filter(limit, func(job Job) bool {
		return job.Status == StatusFailed && job.CreatedUnixUTC < cutoffUnixUTC
	}), nil
}

func (store *stubStore) filter(limit int, keep func(Job) bool) []Job {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]Job, 0)
	for _, job := range store.jobs {
		if keep(job) {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC > matched[right].CreatedUnixUTC
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

type failingStore struct {
	*stubStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{stubStore: newStubStore(test), err: err}
}

func (store *failingStore) WithTx(context.Context, func(ctx context.Context, txStore Store) error) error {
	return store.err
}

func (store *failingStore) FailJob(context.Context, JobID, string) error {
	return store.err
}

func mustOwnerID(test *testing.T, raw string) OwnerID {
	test.Helper()
	ownerID, err := NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner id: %v", err)
	}
	return ownerID
}

func mustTaskID(test *testing.T, raw string) TaskID {
	test.Helper()
	taskID, err := NewTaskID(raw)
	if err != nil {
		test.Fatalf("task id: %v", err)
	}
	return taskID
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	counter := 0
	options = append([]ServiceOption{WithIDGenerator(func() string {
		counter++
		return "job-" + string(rune('a'+counter-1))
	})}, options...)
	service, err := NewService(store, func() int64 { return 1_000 }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}
