package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/stretchr/testify/require"
)

func TestFinalizeCallbackDecisions(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name            string
		payload         string
		live            []enhancer.Detail
		wantStatus      restoration.Status
		wantMessage     string
		wantRecordCalls int
	}{
		{
			name:            "success with result urls",
			payload:         `{"code":200,"data":{"taskId":"task-1","state":"success","resultJson":"{\"resultUrls\":[\"` + resultURL + `\"]}"}}`,
			wantStatus:      restoration.StatusCompleted,
			wantRecordCalls: 0,
		},
		{
			name:            "info image without state",
			payload:         `{"data":{"taskId":"task-1","info":{"resultImageUrl":"` + resultURL + `"}}}`,
			wantStatus:      restoration.StatusCompleted,
			wantRecordCalls: 0,
		},
		{
			name:            "failure callback",
			payload:         `{"data":{"taskId":"task-1","state":"fail"}}`,
			wantStatus:      restoration.StatusFailed,
			wantMessage:     defaultFailMessage,
			wantRecordCalls: 0,
		},
		{
			name:            "success without urls resolved by live query",
			payload:         `{"data":{"taskId":"task-1","state":"success"}}`,
			live:            []enhancer.Detail{{Outcome: enhancer.OutcomeSuccess, ResultURLs: []string{resultURL}}},
			wantStatus:      restoration.StatusCompleted,
			wantRecordCalls: 1,
		},
		{
			name:            "live query reports failure",
			payload:         `{"data":{"taskId":"task-1"}}`,
			live:            []enhancer.Detail{{Outcome: enhancer.OutcomeFail, FailMessage: "nsfw"}},
			wantStatus:      restoration.StatusFailed,
			wantMessage:     "nsfw",
			wantRecordCalls: 1,
		},
		{
			name:    "pending falls through to polling",
			payload: `{"data":{"taskId":"task-1","state":"generating"}}`,
			live: []enhancer.Detail{
				{Outcome: enhancer.OutcomePending},
				{Outcome: enhancer.OutcomePending},
				{Outcome: enhancer.OutcomeSuccess, ResultURLs: []string{resultURL}},
			},
			wantStatus:      restoration.StatusCompleted,
			wantRecordCalls: 3,
		},
		{
			name:    "poll ends in success without urls",
			payload: `{"data":{"taskId":"task-1"}}`,
			live: []enhancer.Detail{
				{Outcome: enhancer.OutcomeSuccess},
				{Outcome: enhancer.OutcomeSuccess},
			},
			wantStatus:      restoration.StatusFailed,
			wantMessage:     missingResultsMessage,
			wantRecordCalls: 2,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			provider := &fakeProvider{taskID: "task-1", callback: true, details: testCase.live}
			fixture := newFixture(t, provider)
			job, taskID := fixture.processingJob(t)

			_ = fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, testCase.payload))

			finished := fixture.reload(t, job.ID)
			require.Equal(t, testCase.wantStatus, finished.Status)
			if testCase.wantMessage != "" {
				require.Equal(t, testCase.wantMessage, finished.ErrorMessage)
			}
			if testCase.wantStatus == restoration.StatusCompleted {
				require.NotEmpty(t, finished.PreviewURL)
				require.NotEmpty(t, finished.FullURL)
			}
			_, recordCalls := provider.calls()
			require.Equal(t, testCase.wantRecordCalls, recordCalls)
		})
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t, &fakeProvider{taskID: "task-1", callback: true})
	job, taskID := fixture.processingJob(t)
	payload := `{"data":{"taskId":"task-1","state":"success","resultUrls":["` + resultURL + `"]}}`

	require.NoError(t, fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, payload)))
	first := fixture.reload(t, job.ID)
	require.NoError(t, fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, payload)))
	require.NoError(t, fixture.finalizer.Finalize(context.Background(), taskID, nil))

	second := fixture.reload(t, job.ID)
	require.Equal(t, first.FullURL, second.FullURL)
	require.Equal(t, first.PreviewURL, second.PreviewURL)
	require.Equal(t, 1, fixture.fetcher.count())
	require.Equal(t, 1, fixture.countBlobs(t, blobstore.VisibilityPrivate))
}

func TestConcurrentFinalizeKeepsOneResult(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t, &fakeProvider{taskID: "task-1", callback: true})
	job, taskID := fixture.processingJob(t)
	payload := `{"data":{"taskId":"task-1","state":"success","resultUrls":["` + resultURL + `"]}}`

	const racers = 4
	var group sync.WaitGroup
	errs := make(chan error, racers)
	for index := 0; index < racers; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			errs <- fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, payload))
		}()
	}
	group.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	completed := fixture.reload(t, job.ID)
	require.Equal(t, restoration.StatusCompleted, completed.Status)
	require.Equal(t, 1, fixture.countBlobs(t, blobstore.VisibilityPrivate))
	fullID, ok := fixture.blobs.IdentifierFromURL(completed.FullURL)
	require.True(t, ok)
	require.FileExists(t, fixture.blobs.Root()+"/private/"+fullID)
}

func TestFinalizeUnknownTaskIsNoop(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t, &fakeProvider{taskID: "task-1", callback: true})
	taskID, err := restoration.NewTaskID("task-unknown")
	require.NoError(t, err)

	require.NoError(t, fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, `{"data":{"taskId":"task-unknown","state":"success"}}`)))
	_, recordCalls := fixture.provider.calls()
	require.Zero(t, recordCalls)
	require.Zero(t, fixture.fetcher.count())
}

func TestFinalizeFailuresArePersisted(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		fetchBody  []byte
		fetchErr   error
		wantErr    error
		wantPublic int
	}{
		{name: "download fails", fetchErr: errProviderDown, wantErr: errProviderDown},
		{name: "result is not an image", fetchBody: []byte("<html>oops</html>"), wantErr: restoration.ErrValidation},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			fixture := newFixture(t, &fakeProvider{taskID: "task-1", callback: true})
			fixture.fetcher.body = testCase.fetchBody
			fixture.fetcher.err = testCase.fetchErr
			job, taskID := fixture.processingJob(t)

			err := fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, `{"data":{"taskId":"task-1","resultUrls":["`+resultURL+`"]}}`))
			require.ErrorIs(t, err, testCase.wantErr)
			failed := fixture.reload(t, job.ID)
			require.Equal(t, restoration.StatusFailed, failed.Status)
			require.Equal(t, err.Error(), failed.ErrorMessage)
			require.Equal(t, testCase.wantPublic, fixture.countBlobs(t, blobstore.VisibilityPublic))
		})
	}
}

func TestPollTimeoutMarksJobFailed(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{taskID: "task-1"}
	fixture := newFixture(t, provider)
	job, taskID := fixture.processingJob(t)

	err := fixture.finalizer.Finalize(context.Background(), taskID, nil)
	require.ErrorIs(t, err, restoration.ErrTimeout)
	var timeoutErr *enhancer.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, enhancer.OutcomePending, timeoutErr.LastState)

	failed := fixture.reload(t, job.ID)
	require.Equal(t, restoration.StatusFailed, failed.Status)
	require.Equal(t, err.Error(), failed.ErrorMessage)
	_, recordCalls := provider.calls()
	require.Greater(t, recordCalls, 5)
}

func TestFinalizeDoesNotOverwriteCompletedJobWithFailure(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t, &fakeProvider{taskID: "task-1", callback: true})
	job, taskID := fixture.processingJob(t)

	require.NoError(t, fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, `{"data":{"taskId":"task-1","resultUrls":["`+resultURL+`"]}}`)))
	require.NoError(t, fixture.finalizer.Finalize(context.Background(), taskID, decodeJSON(t, `{"data":{"taskId":"task-1","state":"fail"}}`)))

	require.Equal(t, restoration.StatusCompleted, fixture.reload(t, job.ID).Status)
}
