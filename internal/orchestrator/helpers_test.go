package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"translator-backend/internal/batch"
	"translator-backend/internal/direct"
	"translator-backend/internal/document"
	"translator-backend/internal/llm"
	"translator-backend/internal/shared/storage/object"
	"translator-backend/internal/shared/storage/object/local"
	"translator-backend/internal/translations"
)

// fakeScheduler records timers; tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if t.active() {
			out = append(out, t)
		}
	}
	return out
}

// only returns the single armed timer, failing when there is not exactly one.
func (s *fakeScheduler) only(t *testing.T) *fakeTimer {
	t.Helper()
	p := s.pending()
	require.Len(t, p, 1, "expected exactly one armed timer")
	return p[0]
}

func (s *fakeScheduler) fire(t *testing.T, timer *fakeTimer) {
	t.Helper()
	timer.mu.Lock()
	require.False(t, timer.stopped, "timer was stopped")
	require.False(t, timer.fired, "timer already fired")
	timer.fired = true
	timer.mu.Unlock()
	timer.f()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// lineFormat treats every non-empty line of the source as one unit.
type lineFormat struct {
	reconstructErr error
}

func (lineFormat) Name() string { return "lines" }

func (lineFormat) Extract(ctx context.Context, data []byte) ([]document.Unit, error) {
	var units []document.Unit
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		units = append(units, document.Unit{ID: fmt.Sprintf("u%d", i+1), Title: fmt.Sprintf("Line %d", i+1), Content: line})
	}
	if len(units) == 0 {
		return nil, document.ErrNoUnits
	}
	return units, nil
}

func (f lineFormat) Reconstruct(ctx context.Context, original []byte, translated []document.TranslatedUnit) ([]byte, error) {
	if f.reconstructErr != nil {
		return nil, f.reconstructErr
	}
	units, err := f.Extract(ctx, original)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(translated))
	for _, t := range translated {
		byID[t.ID] = t.Content
	}
	lines := make([]string, 0, len(units))
	for _, u := range units {
		if c, ok := byID[u.ID]; ok {
			lines = append(lines, c)
			continue
		}
		lines = append(lines, u.Content)
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func (lineFormat) OutputMimeType() string { return "text/plain" }

func (lineFormat) OutputFileName(sourceName, targetLanguage string) string {
	return strings.TrimSuffix(sourceName, ".txt") + "." + targetLanguage + ".txt"
}

// scriptedProvider replays batch statuses, one per poll.
type scriptedProvider struct {
	mu        sync.Mutex
	submitErr error
	statuses  []llm.RemoteBatch
	pollErrs  []error
	output    []byte
	polls     int
	onPoll    func()
}

func (p *scriptedProvider) EncodeRequest(customID string, input llm.TranslateInput) ([]byte, error) {
	return json.Marshal(map[string]string{"custom_id": customID, "content": input.Content})
}

func (p *scriptedProvider) UploadBatchFile(ctx context.Context, fileName string, jsonl []byte) (string, error) {
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "file-in", nil
}

func (p *scriptedProvider) CreateBatch(ctx context.Context, inputFileID string, metadata map[string]string) (llm.RemoteBatch, error) {
	return llm.RemoteBatch{ID: "batch-1", Status: "validating"}, nil
}

func (p *scriptedProvider) RetrieveBatch(ctx context.Context, batchID string) (llm.RemoteBatch, error) {
	p.mu.Lock()
	idx := p.polls
	p.polls++
	hook := p.onPoll
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if idx < len(p.pollErrs) && p.pollErrs[idx] != nil {
		return llm.RemoteBatch{}, p.pollErrs[idx]
	}
	if len(p.statuses) == 0 {
		return llm.RemoteBatch{ID: batchID, Status: "in_progress"}, nil
	}
	return p.statuses[min(idx, len(p.statuses)-1)], nil
}

func (p *scriptedProvider) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	return p.output, nil
}

func (p *scriptedProvider) DecodeResult(line []byte) (string, string, error) {
	var row struct {
		CustomID string `json:"custom_id"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(line, &row); err != nil {
		return "", "", err
	}
	if row.Content == "" {
		return row.CustomID, "", errors.New("empty content")
	}
	return row.CustomID, row.Content, nil
}

// upperTranslator upper-cases content, failing on failOn.
type upperTranslator struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (u *upperTranslator) TranslateUnit(ctx context.Context, input llm.TranslateInput) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, input.UnitID)
	if input.UnitID == u.failOn {
		return "", errors.New("model refused unit")
	}
	return strings.ToUpper(input.Content), nil
}

// recordingRepo captures every progress value written. Updates that set a
// status listed in failOn fail that many times before going through.
type recordingRepo struct {
	*translations.MemoryRepo
	mu       sync.Mutex
	progress []int
	statuses []translations.Status
	failOn   map[translations.Status]int
}

func (r *recordingRepo) failStatusOnce(status translations.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == nil {
		r.failOn = make(map[translations.Status]int)
	}
	r.failOn[status]++
}

func (r *recordingRepo) Update(ctx context.Context, jobID string, u translations.Update) (translations.Job, error) {
	r.mu.Lock()
	if u.Status != nil && r.failOn[*u.Status] > 0 {
		r.failOn[*u.Status]--
		r.mu.Unlock()
		return translations.Job{}, errors.New("write tcp 10.0.0.5:5432: broken pipe")
	}
	if u.Progress != nil {
		r.progress = append(r.progress, *u.Progress)
	}
	if u.Status != nil {
		r.statuses = append(r.statuses, *u.Status)
	}
	r.mu.Unlock()
	return r.MemoryRepo.Update(ctx, jobID, u)
}

// flakyStore fails the next failOpens reads with a network error.
type flakyStore struct {
	object.ObjectStore
	mu        sync.Mutex
	failOpens int
	opens     int
}

func (s *flakyStore) failNextOpens(n int) {
	s.mu.Lock()
	s.failOpens = n
	s.mu.Unlock()
}

func (s *flakyStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.opens++
	if s.failOpens > 0 {
		s.failOpens--
		s.mu.Unlock()
		return nil, errors.New("read tcp 10.0.0.7:443: connection reset by peer")
	}
	s.mu.Unlock()
	return s.ObjectStore.Open(ctx, storageKey)
}

type env struct {
	orch       *Orchestrator
	repo       *recordingRepo
	store      *flakyStore
	states     *batch.MemoryStore
	sched      *fakeScheduler
	clock      *fakeClock
	provider   *scriptedProvider
	translator *upperTranslator
	format     *lineFormat
}

func newEnv(t *testing.T, provider *scriptedProvider) *env {
	t.Helper()
	e := &env{
		repo:       &recordingRepo{MemoryRepo: translations.NewMemoryRepo()},
		store:      &flakyStore{ObjectStore: local.New(t.TempDir())},
		states:     batch.NewMemoryStore(),
		sched:      &fakeScheduler{},
		clock:      &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		provider:   provider,
		translator: &upperTranslator{},
		format:     &lineFormat{},
	}
	runner := direct.NewRunner(e.repo, e.translator, direct.NewScratch(e.store), 0, translations.DefaultProgress())
	e.orch = New(Deps{
		Jobs:   e.repo,
		Store:  e.store,
		Batch:  batch.NewClient(provider, e.states),
		Direct: runner,
		Formats: func(string, string, []byte) (document.Format, error) {
			return *e.format, nil
		},
	}, Config{PollInterval: 2 * time.Minute}, WithScheduler(e.sched), WithClock(e.clock.Now))
	t.Cleanup(e.orch.Stop)
	return e
}

func (e *env) createJob(t *testing.T, job translations.Job, lines ...string) string {
	t.Helper()
	ctx := context.Background()
	key, _, _, err := e.store.Save(ctx, "user-1", "book.txt", strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	if job.ID == "" {
		job.ID = "job-1"
	}
	if job.Status == "" {
		job.Status = translations.StatusPending
	}
	job.UserID = "user-1"
	job.SourceKey = key
	job.SourceFileName = "book.txt"
	job.SourceMimeType = "text/plain"
	job.SourceLanguage = "en"
	job.TargetLanguage = "fr"
	job.CreatedAt = e.clock.Now()
	require.NoError(t, e.repo.Create(ctx, job))
	return job.ID
}

func (e *env) job(t *testing.T, id string) translations.Job {
	t.Helper()
	job, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (e *env) artifact(t *testing.T, job translations.Job) string {
	t.Helper()
	require.NotEmpty(t, job.ArtifactKey)
	raw, err := object.ReadAll(context.Background(), e.store, job.ArtifactKey)
	require.NoError(t, err)
	return string(raw)
}

func resultLines(pairs ...string) []byte {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		line, _ := json.Marshal(map[string]string{"custom_id": pairs[i], "content": pairs[i+1]})
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func saveScratch(e *env, jobID string, unit document.TranslatedUnit) error {
	return direct.NewScratch(e.store).Save(context.Background(), jobID, unit)
}
