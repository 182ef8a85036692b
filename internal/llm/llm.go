package llm

import (
	"context"
	"errors"
	"time"
)

// Translator translates a single unit synchronously.
type Translator interface {
	TranslateUnit(ctx context.Context, input TranslateInput) (string, error)
}

// TranslateInput is one unit plus the job-wide language settings.
type TranslateInput struct {
	UnitID         string
	Title          string
	Content        string
	SourceLanguage string
	TargetLanguage string
	Style          string
}

// RemoteBatch is the provider's view of an asynchronous batch.
type RemoteBatch struct {
	ID           string
	Status       string
	InputFileID  string
	OutputFileID string
	ErrorFileID  string
	Total        int
	Completed    int
	Failed       int
	CreatedAt    time.Time
	Errors       []string
}

// BatchProvider is an asynchronous bulk translation backend: requests are
// encoded one per line, uploaded as a file and processed as one batch.
type BatchProvider interface {
	EncodeRequest(customID string, input TranslateInput) ([]byte, error)
	UploadBatchFile(ctx context.Context, fileName string, jsonl []byte) (string, error)
	CreateBatch(ctx context.Context, inputFileID string, metadata map[string]string) (RemoteBatch, error)
	RetrieveBatch(ctx context.Context, batchID string) (RemoteBatch, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
	DecodeResult(line []byte) (customID string, content string, err error)
}

// ErrNotImplemented is returned by the placeholder translator.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderTranslator is used when no provider is configured.
type PlaceholderTranslator struct{}

// TranslateUnit returns ErrNotImplemented.
func (PlaceholderTranslator) TranslateUnit(ctx context.Context, input TranslateInput) (string, error) {
	_ = ctx
	_ = input
	return "", ErrNotImplemented
}
