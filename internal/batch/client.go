package batch

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/document"
	"translator-backend/internal/llm"
	"translator-backend/internal/shared/metrics"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
)

const maxResultLine = 16 << 20

// Client submits documents to an asynchronous batch provider and tracks
// their state. Unit IDs are used as the per-request correlation key.
type Client struct {
	provider llm.BatchProvider
	states   StateStore
	now      func() time.Time
}

// NewClient constructs a Client.
func NewClient(provider llm.BatchProvider, states StateStore) *Client {
	return &Client{
		provider: provider,
		states:   states,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubmitBatch uploads one request per unit as a single batch. Any rejection
// is returned as a *translations.SubmissionError.
func (c *Client) SubmitBatch(ctx context.Context, jobID string, units []document.Unit, sourceLanguage, targetLanguage, style string) (State, error) {
	if len(units) == 0 {
		return State{}, &translations.SubmissionError{Err: errors.New("no units to submit")}
	}

	seen := make(map[string]bool, len(units))
	var buf bytes.Buffer
	for _, u := range units {
		if seen[u.ID] {
			return State{}, &translations.SubmissionError{Err: errors.Newf("duplicate unit id %q", u.ID)}
		}
		seen[u.ID] = true
		line, err := c.provider.EncodeRequest(u.ID, llm.TranslateInput{
			UnitID:         u.ID,
			Title:          u.Title,
			Content:        u.Content,
			SourceLanguage: sourceLanguage,
			TargetLanguage: targetLanguage,
			Style:          style,
		})
		if err != nil {
			return State{}, &translations.SubmissionError{Err: errors.Wrapf(err, "encode unit %s", u.ID)}
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	fileID, err := c.provider.UploadBatchFile(ctx, jobID+".jsonl", buf.Bytes())
	if err != nil {
		return State{}, &translations.SubmissionError{Err: err}
	}
	remote, err := c.provider.CreateBatch(ctx, fileID, map[string]string{"job_id": jobID})
	if err != nil {
		return State{}, &translations.SubmissionError{Err: err}
	}

	st := State{
		BatchID:     remote.ID,
		JobID:       jobID,
		InputFileID: fileID,
		InputUnits:  units,
		CreatedAt:   c.now(),
	}
	st.setStatus(StatusValidating)
	if err := c.states.Put(ctx, st); err != nil {
		// The batch exists remotely; the orchestrator re-tracks it on the first poll.
		telemetry.Error("batch.state.put_failed", map[string]any{"batch_id": st.BatchID, "job_id": jobID, "error": err.Error()})
	}
	telemetry.Info("batch.submitted", map[string]any{"batch_id": st.BatchID, "job_id": jobID, "units": len(units), "bytes": buf.Len()})
	return st, nil
}

// PollStatus refreshes a tracked batch from the provider. Results are
// downloaded and parsed once, when the batch first reports completion;
// finished states are returned from the store without another remote call.
// Failures are returned as *translations.PollError.
func (c *Client) PollStatus(ctx context.Context, batchID string) (State, error) {
	st, err := c.states.Get(ctx, batchID)
	if err != nil {
		return State{}, &translations.PollError{BatchID: batchID, Err: err}
	}
	if st.Status == StatusCompleted || st.Status == StatusFailed {
		return st, nil
	}

	remote, err := c.provider.RetrieveBatch(ctx, batchID)
	if err != nil {
		return State{}, &translations.PollError{BatchID: batchID, Err: err}
	}

	switch status := mapStatus(remote.Status); status {
	case StatusCompleted:
		units, skipped, err := c.collectResults(ctx, st, remote)
		if err != nil {
			return State{}, &translations.PollError{BatchID: batchID, Err: err}
		}
		now := c.now()
		st.CompletedAt = &now
		st.OutputFileID = remote.OutputFileID
		st.Skipped = skipped
		if len(units) == 0 {
			st.setStatus(StatusFailed)
			st.Error = "batch completed without any usable results"
			break
		}
		st.setStatus(StatusCompleted)
		st.TranslatedUnits = units
		full := 100
		st.Progress = &full
	case StatusFailed:
		now := c.now()
		st.CompletedAt = &now
		st.setStatus(StatusFailed)
		st.Error = remoteFailureReason(remote)
	default:
		st.setStatus(status)
		st.Progress = progressEstimate(remote.Total, remote.Completed)
	}

	if err := c.states.Put(ctx, st); err != nil {
		telemetry.Error("batch.state.put_failed", map[string]any{"batch_id": batchID, "error": err.Error()})
	}
	return st, nil
}

// FetchResults returns the translated units of a completed batch, or nil
// when the batch has not completed. It never contacts the provider.
func (c *Client) FetchResults(ctx context.Context, batchID string) ([]document.TranslatedUnit, error) {
	st, err := c.states.Get(ctx, batchID)
	if errors.Is(err, ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Status != StatusCompleted {
		return nil, nil
	}
	return st.TranslatedUnits, nil
}

// Lookup returns the cached state for a batch without contacting the provider.
func (c *Client) Lookup(ctx context.Context, batchID string) (State, bool, error) {
	st, err := c.states.Get(ctx, batchID)
	if errors.Is(err, ErrStateNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// Track registers an already submitted batch, e.g. after a restart lost
// the in-memory state. Existing states are left untouched.
func (c *Client) Track(ctx context.Context, batchID, jobID string, units []document.Unit) error {
	if _, ok, err := c.Lookup(ctx, batchID); err != nil || ok {
		return err
	}
	st := State{
		BatchID:    batchID,
		JobID:      jobID,
		InputUnits: units,
		CreatedAt:  c.now(),
	}
	st.setStatus(StatusInProgress)
	telemetry.Info("batch.tracked", map[string]any{"batch_id": batchID, "job_id": jobID, "units": len(units)})
	return c.states.Put(ctx, st)
}

// Forget drops the cached state once a job no longer needs it.
func (c *Client) Forget(ctx context.Context, batchID string) error {
	return c.states.Delete(ctx, batchID)
}

func (c *Client) collectResults(ctx context.Context, st State, remote llm.RemoteBatch) ([]document.TranslatedUnit, int, error) {
	skipped := remote.Failed
	if remote.OutputFileID == "" {
		return nil, skipped, nil
	}
	output, err := c.provider.FileContent(ctx, remote.OutputFileID)
	if err != nil {
		return nil, 0, err
	}

	inputs := make(map[string]document.Unit, len(st.InputUnits))
	for _, u := range st.InputUnits {
		inputs[u.ID] = u
	}

	translated := make(map[string]string, len(st.InputUnits))
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResultLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		customID, content, err := c.provider.DecodeResult(line)
		if err != nil {
			skipped++
			parseErr := &translations.ResultParseError{BatchID: st.BatchID, Line: lineNo, CustomID: customID, Err: err}
			telemetry.Warn("batch.result.skipped", map[string]any{"batch_id": st.BatchID, "line": lineNo, "unit_id": customID, "error": parseErr.Error()})
			continue
		}
		if _, ok := inputs[customID]; !ok {
			skipped++
			telemetry.Warn("batch.result.unmatched", map[string]any{"batch_id": st.BatchID, "line": lineNo, "unit_id": customID})
			continue
		}
		if _, dup := translated[customID]; dup {
			continue
		}
		translated[customID] = content
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "read batch output")
	}
	metrics.AddResultsSkipped(skipped)

	units := make([]document.TranslatedUnit, 0, len(translated))
	for _, u := range st.InputUnits {
		content, ok := translated[u.ID]
		if !ok {
			continue
		}
		units = append(units, document.TranslatedUnit{ID: u.ID, Title: u.Title, Content: content})
	}
	return units, skipped, nil
}

func remoteFailureReason(remote llm.RemoteBatch) string {
	if len(remote.Errors) > 0 {
		return strings.Join(remote.Errors, "; ")
	}
	return "batch " + remote.Status
}
