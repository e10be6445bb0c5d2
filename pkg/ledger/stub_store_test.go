package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

type stubStore struct {
	mu       sync.Mutex
	owners   map[restoration.OwnerID]Owner
	jobs     map[restoration.JobID]restoration.Job
	entries  []EntryInput
	packs    map[string]CreditPack
	failures stubFailures
}

type stubFailures struct {
	lockOwner     error
	insertEntry   error
	updateBalance error
	unlockJob     error
	markShareUsed error
	hasPaymentRef error
	listEntries   error
	getOwner      error
}

type stubSnapshot struct {
	owners  map[restoration.OwnerID]Owner
	jobs    map[restoration.JobID]restoration.Job
	entries []EntryInput
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		owners: map[restoration.OwnerID]Owner{},
		jobs:   map[restoration.JobID]restoration.Job{},
		packs:  map[string]CreditPack{},
	}
}

// WithTx restores the pre-transaction state when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) snapshot() stubSnapshot {
	store.mu.Lock()
	defer store.mu.Unlock()
	owners := make(map[restoration.OwnerID]Owner, len(store.owners))
	for key, value := range store.owners {
		owners[key] = value
	}
	jobs := make(map[restoration.JobID]restoration.Job, len(store.jobs))
	for key, value := range store.jobs {
		jobs[key] = value
	}
	entries := append([]EntryInput(nil), store.entries...)
	return stubSnapshot{owners: owners, jobs: jobs, entries: entries}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.owners = snapshot.owners
	store.jobs = snapshot.jobs
	store.entries = snapshot.entries
}

func (store *stubStore) GetOrCreateOwner(_ context.Context, ownerID restoration.OwnerID) (Owner, error) {
	if store.failures.getOwner != nil {
		return Owner{}, store.failures.getOwner
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	owner, ok := store.owners[ownerID]
	if !ok {
		owner = Owner{ID: ownerID}
		store.owners[ownerID] = owner
	}
	return owner, nil
}

func (store *stubStore) LockOwner(ctx context.Context, ownerID restoration.OwnerID) (Owner, error) {
	if store.failures.lockOwner != nil {
		return Owner{}, store.failures.lockOwner
	}
	return store.GetOrCreateOwner(ctx, ownerID)
}

func (store *stubStore) UpdateOwnerBalance(_ context.Context, ownerID restoration.OwnerID, balance BalanceCents) error {
	if store.failures.updateBalance != nil {
		return store.failures.updateBalance
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	owner := store.owners[ownerID]
	owner.ID = ownerID
	owner.Balance = balance
	store.owners[ownerID] = owner
	return nil
}

func (store *stubStore) MarkSocialShareUsed(_ context.Context, ownerID restoration.OwnerID) error {
	if store.failures.markShareUsed != nil {
		return store.failures.markShareUsed
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	owner := store.owners[ownerID]
	owner.ID = ownerID
	owner.SocialShareUsed = true
	store.owners[ownerID] = owner
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry EntryInput) error {
	if store.failures.insertEntry != nil {
		return store.failures.insertEntry
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if !entry.PaymentRef().IsZero() {
		for _, existing := range store.entries {
			if existing.PaymentRef() == entry.PaymentRef() {
				return ErrDuplicatePaymentRef
			}
		}
	}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) HasPaymentRef(_ context.Context, ref PaymentRef) (bool, error) {
	if store.failures.hasPaymentRef != nil {
		return false, store.failures.hasPaymentRef
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.entries {
		if existing.PaymentRef() == ref {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) ListEntries(_ context.Context, ownerID restoration.OwnerID, _ int64, limit int) ([]Entry, error) {
	if store.failures.listEntries != nil {
		return nil, store.failures.listEntries
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	entries := make([]Entry, 0)
	for index := len(store.entries) - 1; index >= 0 && len(entries) < limit; index-- {
		input := store.entries[index]
		if input.OwnerID() != ownerID {
			continue
		}
		entries = append(entries, Entry{
			OwnerID:        input.OwnerID(),
			Type:           input.Type(),
			AmountCredits:  input.AmountCredits(),
			PaymentRef:     input.PaymentRef(),
			JobID:          input.JobID(),
			MetadataJSON:   input.MetadataJSON(),
			CreatedUnixUTC: input.CreatedUnixUTC(),
		})
	}
	return entries, nil
}

func (store *stubStore) GetOwnedJob(_ context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return restoration.Job{}, restoration.ErrJobNotFound
	}
	return job, nil
}

func (store *stubStore) LockOwnedJob(ctx context.Context, ownerID restoration.OwnerID, jobID restoration.JobID) (restoration.Job, error) {
	return store.GetOwnedJob(ctx, ownerID, jobID)
}

func (store *stubStore) UnlockJob(_ context.Context, jobID restoration.JobID, method restoration.UnlockMethod, atUnixUTC int64) error {
	if store.failures.unlockJob != nil {
		return store.failures.unlockJob
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	job, ok := store.jobs[jobID]
	if !ok {
		return restoration.ErrJobNotFound
	}
	if job.IsUnlocked() {
		return ErrAlreadyUnlocked
	}
	job.UnlockMethod = method
	job.UnlockedUnixUTC = atUnixUTC
	store.jobs[jobID] = job
	return nil
}

func (store *stubStore) ListCreditPacks(context.Context) ([]CreditPack, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	packs := make([]CreditPack, 0, len(store.packs))
	for _, pack := range store.packs {
		if pack.Active {
			packs = append(packs, pack)
		}
	}
	return packs, nil
}

func (store *stubStore) GetCreditPack(_ context.Context, sku string) (CreditPack, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	pack, ok := store.packs[sku]
	if !ok {
		return CreditPack{}, ErrUnknownCreditPack
	}
	return pack, nil
}

func (store *stubStore) EnsureCreditPack(_ context.Context, pack CreditPack) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.packs[pack.SKU]; ok {
		return false, nil
	}
	store.packs[pack.SKU] = pack
	return true, nil
}

func (store *stubStore) putJob(job restoration.Job) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.jobs[job.ID] = job
}

func (store *stubStore) job(jobID restoration.JobID) restoration.Job {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.jobs[jobID]
}

func (store *stubStore) owner(ownerID restoration.OwnerID) Owner {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.owners[ownerID]
}

func (store *stubStore) setBalance(ownerID restoration.OwnerID, balance BalanceCents) {
	store.mu.Lock()
	defer store.mu.Unlock()
	owner := store.owners[ownerID]
	owner.ID = ownerID
	owner.Balance = balance
	store.owners[ownerID] = owner
}

// assertUnlockInvariant checks that unlocked_at is set exactly when a method is recorded.
func (store *stubStore) assertUnlockInvariant(test *testing.T) {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, job := range store.jobs {
		if job.IsUnlocked() != (job.UnlockedUnixUTC != 0) {
			test.Fatalf("unlock invariant violated for %+v", job)
		}
	}
}

type memoryShareStates struct {
	mu     sync.Mutex
	states map[string]ShareState
	ttls   map[string]time.Duration
}

func newMemoryShareStates() *memoryShareStates {
	return &memoryShareStates{states: map[string]ShareState{}, ttls: map[string]time.Duration{}}
}

func (states *memoryShareStates) Put(_ context.Context, key ShareKey, state ShareState, ttl time.Duration) error {
	states.mu.Lock()
	defer states.mu.Unlock()
	states.states[key.String()] = state
	states.ttls[key.String()] = ttl
	return nil
}

func (states *memoryShareStates) Get(_ context.Context, key ShareKey) (ShareState, bool, error) {
	states.mu.Lock()
	defer states.mu.Unlock()
	state, ok := states.states[key.String()]
	return state, ok, nil
}

func (states *memoryShareStates) Delete(_ context.Context, key ShareKey) error {
	states.mu.Lock()
	defer states.mu.Unlock()
	delete(states.states, key.String())
	return nil
}

func (states *memoryShareStates) expire(key ShareKey) {
	states.mu.Lock()
	defer states.mu.Unlock()
	delete(states.states, key.String())
}

type fixedClock struct {
	mu  sync.Mutex
	now int64
}

func (clock *fixedClock) Unix() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fixedClock) Time() time.Time {
	return time.Unix(clock.Unix(), 0).UTC()
}

func (clock *fixedClock) advance(seconds int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now += seconds
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1_700_000_000 }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustOwnerID(test *testing.T, raw string) restoration.OwnerID {
	test.Helper()
	ownerID, err := restoration.NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner id: %v", err)
	}
	return ownerID
}

func mustJobID(test *testing.T, raw string) restoration.JobID {
	test.Helper()
	jobID, err := restoration.NewJobID(raw)
	if err != nil {
		test.Fatalf("job id: %v", err)
	}
	return jobID
}

func mustPaymentRef(test *testing.T, raw string) PaymentRef {
	test.Helper()
	ref, err := NewPaymentRef(raw)
	if err != nil {
		test.Fatalf("payment ref: %v", err)
	}
	return ref
}

func mustCredits(test *testing.T, raw int64) Credits {
	test.Helper()
	credits, err := NewCredits(raw)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	return credits
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func completedJob(test *testing.T, owner restoration.OwnerID, rawJobID string) restoration.Job {
	test.Helper()
	return restoration.Job{
		ID:           mustJobID(test, rawJobID),
		OwnerID:      owner,
		OriginalURL:  "https://cdn.example.com/original.png",
		PreviewURL:   "https://cdn.example.com/preview.jpg",
		FullURL:      "private/full/" + rawJobID + ".png",
		Status:       restoration.StatusCompleted,
		UnlockMethod: restoration.UnlockNone,
	}
}
