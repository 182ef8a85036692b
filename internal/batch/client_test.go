package batch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"translator-backend/internal/document"
	"translator-backend/internal/llm"
	"translator-backend/internal/translations"
)

type fakeProvider struct {
	mu sync.Mutex

	uploadErr   error
	createErr   error
	retrieveErr error

	uploaded  []byte
	remote    llm.RemoteBatch
	output    []byte
	retrieves int
	downloads int
}

func (f *fakeProvider) EncodeRequest(customID string, input llm.TranslateInput) ([]byte, error) {
	return json.Marshal(map[string]string{"custom_id": customID, "content": input.Content})
}

func (f *fakeProvider) UploadBatchFile(ctx context.Context, fileName string, jsonl []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded = append([]byte(nil), jsonl...)
	return "file-in", nil
}

func (f *fakeProvider) CreateBatch(ctx context.Context, inputFileID string, metadata map[string]string) (llm.RemoteBatch, error) {
	if f.createErr != nil {
		return llm.RemoteBatch{}, f.createErr
	}
	return llm.RemoteBatch{ID: "batch-1", Status: "validating", InputFileID: inputFileID}, nil
}

func (f *fakeProvider) RetrieveBatch(ctx context.Context, batchID string) (llm.RemoteBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves++
	if f.retrieveErr != nil {
		return llm.RemoteBatch{}, f.retrieveErr
	}
	return f.remote, nil
}

func (f *fakeProvider) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.output, nil
}

// DecodeResult expects lines of the form {"custom_id": "...", "content": "..."}
// and treats an "error" key as a failed request.
func (f *fakeProvider) DecodeResult(line []byte) (string, string, error) {
	var row struct {
		CustomID string `json:"custom_id"`
		Content  string `json:"content"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(line, &row); err != nil {
		return "", "", err
	}
	if row.Error != "" {
		return row.CustomID, "", errors.New(row.Error)
	}
	return row.CustomID, row.Content, nil
}

func testUnits() []document.Unit {
	return []document.Unit{
		{ID: "ch1", Title: "One", Content: "<p>one</p>"},
		{ID: "ch2", Title: "Two", Content: "<p>two</p>"},
		{ID: "ch3", Title: "Three", Content: "<p>three</p>"},
	}
}

func submitted(t *testing.T, p *fakeProvider) (*Client, State) {
	t.Helper()
	c := NewClient(p, NewMemoryStore())
	st, err := c.SubmitBatch(context.Background(), "job-1", testUnits(), "en", "fr", "")
	require.NoError(t, err)
	return c, st
}

func TestSubmitBatchEncodesOneLinePerUnit(t *testing.T) {
	p := &fakeProvider{}
	_, st := submitted(t, p)

	require.Equal(t, "batch-1", st.BatchID)
	require.Equal(t, StatusValidating, st.Status)
	require.Equal(t, "file-in", st.InputFileID)
	require.Len(t, st.InputUnits, 3)
	require.Nil(t, st.TranslatedUnits)

	lines := strings.Split(strings.TrimSpace(string(p.uploaded)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"custom_id":"ch1"`)
	require.Contains(t, lines[2], `"custom_id":"ch3"`)
}

func TestSubmitBatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		units    []document.Unit
	}{
		{name: "no units", provider: &fakeProvider{}, units: nil},
		{name: "duplicate ids", provider: &fakeProvider{}, units: []document.Unit{{ID: "a"}, {ID: "a"}}},
		{name: "upload rejected", provider: &fakeProvider{uploadErr: errors.New("413")}, units: testUnits()},
		{name: "create rejected", provider: &fakeProvider{createErr: errors.New("quota")}, units: testUnits()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.provider, NewMemoryStore())
			_, err := c.SubmitBatch(context.Background(), "job-1", tt.units, "en", "fr", "")
			var subErr *translations.SubmissionError
			require.ErrorAs(t, err, &subErr)
		})
	}
}

func TestPollStatusInProgressEstimatesProgress(t *testing.T) {
	p := &fakeProvider{remote: llm.RemoteBatch{ID: "batch-1", Status: "in_progress", Total: 3, Completed: 2}}
	c, _ := submitted(t, p)

	st, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, st.Status)
	require.NotNil(t, st.Progress)
	require.Equal(t, 66, *st.Progress)
	require.Nil(t, st.TranslatedUnits)
	require.Zero(t, p.downloads)
}

func TestPollStatusWithoutCountsLeavesProgressUnset(t *testing.T) {
	p := &fakeProvider{remote: llm.RemoteBatch{ID: "batch-1", Status: "validating"}}
	c, _ := submitted(t, p)

	st, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, StatusValidating, st.Status)
	require.Nil(t, st.Progress)
}

func TestPollStatusCompletedSkipsBadLines(t *testing.T) {
	output := strings.Join([]string{
		`{"custom_id":"ch2","content":"<p>deux</p>"}`,
		`not json`,
		`{"custom_id":"ch3","error":"content_filter"}`,
		`{"custom_id":"ghost","content":"<p>boo</p>"}`,
		``,
		`{"custom_id":"ch1","content":"<p>un</p>"}`,
	}, "\n")
	p := &fakeProvider{
		remote: llm.RemoteBatch{ID: "batch-1", Status: "completed", OutputFileID: "file-out", Total: 3, Completed: 2, Failed: 1},
		output: []byte(output),
	}
	c, _ := submitted(t, p)

	st, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Status)
	require.NotNil(t, st.CompletedAt)
	require.Equal(t, []document.TranslatedUnit{
		{ID: "ch1", Title: "One", Content: "<p>un</p>"},
		{ID: "ch2", Title: "Two", Content: "<p>deux</p>"},
	}, st.TranslatedUnits)
	// one provider-side failure plus three unusable lines
	require.Equal(t, 4, st.Skipped)

	results, err := c.FetchResults(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestPollStatusCompletedIsIdempotent(t *testing.T) {
	p := &fakeProvider{
		remote: llm.RemoteBatch{ID: "batch-1", Status: "completed", OutputFileID: "file-out"},
		output: []byte(`{"custom_id":"ch1","content":"un"}`),
	}
	c, _ := submitted(t, p)

	_, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	st, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Status)
	require.Equal(t, 1, p.retrieves)
	require.Equal(t, 1, p.downloads)
}

func TestPollStatusCompletedWithoutResultsFails(t *testing.T) {
	p := &fakeProvider{
		remote: llm.RemoteBatch{ID: "batch-1", Status: "completed", OutputFileID: "file-out"},
		output: []byte("garbage\n"),
	}
	c, _ := submitted(t, p)

	st, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, st.Status)
	require.Nil(t, st.TranslatedUnits)
	require.NotEmpty(t, st.Error)
}

func TestPollStatusBackendFailure(t *testing.T) {
	p := &fakeProvider{remote: llm.RemoteBatch{ID: "batch-1", Status: "expired"}}
	c, _ := submitted(t, p)

	st, err := c.PollStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, st.Status)
	require.Equal(t, "batch expired", st.Error)

	results, err := c.FetchResults(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestPollStatusTransientError(t *testing.T) {
	p := &fakeProvider{retrieveErr: errors.New("connection reset")}
	c, _ := submitted(t, p)

	_, err := c.PollStatus(context.Background(), "batch-1")
	var pollErr *translations.PollError
	require.ErrorAs(t, err, &pollErr)
	require.Equal(t, "batch-1", pollErr.BatchID)
	require.True(t, translations.IsTransient(err))

	st, ok, err := c.Lookup(context.Background(), "batch-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusValidating, st.Status)
}

func TestPollStatusUnknownBatch(t *testing.T) {
	c := NewClient(&fakeProvider{}, NewMemoryStore())
	_, err := c.PollStatus(context.Background(), "nope")
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestTrackKeepsExistingState(t *testing.T) {
	p := &fakeProvider{}
	c, _ := submitted(t, p)

	require.NoError(t, c.Track(context.Background(), "batch-1", "job-1", nil))
	st, ok, err := c.Lookup(context.Background(), "batch-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, st.InputUnits, 3)

	require.NoError(t, c.Track(context.Background(), "batch-2", "job-2", testUnits()[:1]))
	st, ok, err = c.Lookup(context.Background(), "batch-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusInProgress, st.Status)

	require.NoError(t, c.Forget(context.Background(), "batch-2"))
	_, ok, err = c.Lookup(context.Background(), "batch-2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapStatus(t *testing.T) {
	tests := map[string]Status{
		"validating":  StatusValidating,
		"in_progress": StatusInProgress,
		"finalizing":  StatusInProgress,
		"completed":   StatusCompleted,
		"failed":      StatusFailed,
		"expired":     StatusFailed,
		"cancelled":   StatusFailed,
		"something":   StatusInProgress,
	}
	for in, want := range tests {
		if got := mapStatus(in); got != want {
			t.Fatalf("mapStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
