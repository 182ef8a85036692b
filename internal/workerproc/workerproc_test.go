package workerproc

import (
	"context"
	"errors"
	"testing"

	"translator-backend/internal/queue"
	"translator-backend/internal/translations"
)

type recordingStarter struct {
	jobID     string
	requestID string
	err       error
}

func (r *recordingStarter) Start(ctx context.Context, jobID string) error {
	r.jobID = jobID
	r.requestID = translations.RequestIDFromContext(ctx)
	return r.err
}

func encode(t *testing.T, msg queue.Message) string {
	t.Helper()
	raw, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(raw)
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "empty", body: "  ", wantErr: ErrEmptyBody{}},
		{name: "bad json", body: "{bad-json", wantErr: ErrDecode{}},
		{name: "missing job id", body: `{"requestId":"req-1"}`, wantErr: ErrMissingJobID{}},
		{name: "valid", body: `{"jobId":"job-1","requestId":"req-1","version":1}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, meta, err := ParseMessage(tt.body)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if msg.JobID != "job-1" || meta.BodyLen != len(tt.body) || meta.BodySHA == "" {
					t.Fatalf("unexpected parse msg=%+v meta=%+v", msg, meta)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if !Unrecoverable(err) {
				t.Fatalf("expected unrecoverable error, got %T", err)
			}
			switch tt.wantErr.(type) {
			case ErrEmptyBody:
				if _, ok := err.(ErrEmptyBody); !ok {
					t.Fatalf("expected ErrEmptyBody, got %T", err)
				}
			case ErrDecode:
				if _, ok := err.(ErrDecode); !ok {
					t.Fatalf("expected ErrDecode, got %T", err)
				}
			case ErrMissingJobID:
				e, ok := err.(ErrMissingJobID)
				if !ok || e.RequestID != "req-1" {
					t.Fatalf("expected ErrMissingJobID with request id, got %#v", err)
				}
			}
		})
	}
}

func TestHandleMessageStartsJob(t *testing.T) {
	starter := &recordingStarter{}
	body := encode(t, queue.Message{JobID: "job-7", RequestID: "req-7", Version: 1})

	if err := HandleMessage(context.Background(), starter, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if starter.jobID != "job-7" || starter.requestID != "req-7" {
		t.Fatalf("unexpected start job=%q request=%q", starter.jobID, starter.requestID)
	}
}

func TestHandleMessageUsesParsedMessage(t *testing.T) {
	starter := &recordingStarter{}
	ctx := WithParsedMessage(context.Background(), queue.Message{JobID: "job-ctx"})

	if err := HandleMessage(ctx, starter, "ignored"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if starter.jobID != "job-ctx" {
		t.Fatalf("job id = %q", starter.jobID)
	}
}

func TestHandleMessageWrapsStartError(t *testing.T) {
	cause := errors.New("database unavailable")
	starter := &recordingStarter{err: cause}
	body := encode(t, queue.Message{JobID: "job-8", RequestID: "req-8"})

	err := HandleMessage(context.Background(), starter, body)
	var procErr ErrProcess
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if procErr.JobID != "job-8" || !errors.Is(err, cause) {
		t.Fatalf("unexpected process error %+v", procErr)
	}
	if Unrecoverable(err) {
		t.Fatalf("start errors must be retried")
	}
}

func TestHandleMessageWithoutStarter(t *testing.T) {
	if err := HandleMessage(context.Background(), nil, `{"jobId":"x"}`); err == nil {
		t.Fatalf("expected error")
	}
}
