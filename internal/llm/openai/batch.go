package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/llm"
)

const (
	batchEndpoint         = "/v1/chat/completions"
	batchCompletionWindow = "24h"
)

type batchRequestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     chatRequest `json:"body"`
}

type batchResultLine struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int          `json:"status_code"`
		Body       chatResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type batchObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	InputFileID   string `json:"input_file_id"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	CreatedAt     int64  `json:"created_at"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
	Errors *struct {
		Data []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
}

func (b batchObject) toRemote() llm.RemoteBatch {
	out := llm.RemoteBatch{
		ID:           b.ID,
		Status:       b.Status,
		InputFileID:  b.InputFileID,
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
		Total:        b.RequestCounts.Total,
		Completed:    b.RequestCounts.Completed,
		Failed:       b.RequestCounts.Failed,
	}
	if b.CreatedAt > 0 {
		out.CreatedAt = time.Unix(b.CreatedAt, 0).UTC()
	}
	if b.Errors != nil {
		for _, e := range b.Errors.Data {
			out.Errors = append(out.Errors, strings.TrimSpace(e.Code+": "+e.Message))
		}
	}
	return out
}

// EncodeRequest renders one JSONL request line keyed by customID.
func (c *Client) EncodeRequest(customID string, input llm.TranslateInput) ([]byte, error) {
	line := batchRequestLine{
		CustomID: customID,
		Method:   http.MethodPost,
		URL:      batchEndpoint,
		Body:     c.buildChatRequest(input, supportsZeroTemperature(c.model)),
	}
	return json.Marshal(line)
}

// UploadBatchFile uploads a JSONL file with purpose=batch and returns its file ID.
func (c *Client) UploadBatchFile(ctx context.Context, fileName string, jsonl []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(jsonl); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	data, err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &body)
	if err != nil {
		return "", errors.Wrap(err, "upload batch file")
	}
	var file struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return "", errors.Wrap(err, "parse file upload response")
	}
	if file.ID == "" {
		return "", errors.New("file upload response missing id")
	}
	return file.ID, nil
}

// CreateBatch starts a batch over an uploaded input file.
func (c *Client) CreateBatch(ctx context.Context, inputFileID string, metadata map[string]string) (llm.RemoteBatch, error) {
	payload, err := json.Marshal(map[string]any{
		"input_file_id":     inputFileID,
		"endpoint":          batchEndpoint,
		"completion_window": batchCompletionWindow,
		"metadata":          metadata,
	})
	if err != nil {
		return llm.RemoteBatch{}, err
	}
	data, err := c.do(ctx, http.MethodPost, "/batches", "application/json", bytes.NewReader(payload))
	if err != nil {
		return llm.RemoteBatch{}, errors.Wrap(err, "create batch")
	}
	return decodeBatch(data)
}

// RetrieveBatch fetches the current state of a batch.
func (c *Client) RetrieveBatch(ctx context.Context, batchID string) (llm.RemoteBatch, error) {
	data, err := c.do(ctx, http.MethodGet, "/batches/"+url.PathEscape(batchID), "", nil)
	if err != nil {
		return llm.RemoteBatch{}, errors.Wrapf(err, "retrieve batch %s", batchID)
	}
	return decodeBatch(data)
}

// FileContent downloads a file such as a batch output.
func (c *Client) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/content", "", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "download file %s", fileID)
	}
	return data, nil
}

// DecodeResult parses one output line into its custom ID and translated text.
// The custom ID is returned whenever it could be read, even alongside an error.
func (c *Client) DecodeResult(line []byte) (string, string, error) {
	var parsed batchResultLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		return "", "", errors.Wrap(err, "malformed result line")
	}
	if parsed.Error != nil {
		return parsed.CustomID, "", errors.Newf("request failed: %s %s", parsed.Error.Code, parsed.Error.Message)
	}
	if parsed.Response == nil {
		return parsed.CustomID, "", errors.New("result line missing response")
	}
	if parsed.Response.StatusCode < 200 || parsed.Response.StatusCode > 299 {
		msg := ""
		if parsed.Response.Body.Error != nil {
			msg = parsed.Response.Body.Error.Message
		}
		return parsed.CustomID, "", errors.Newf("request returned status %d: %s", parsed.Response.StatusCode, msg)
	}
	content, err := completionContent(parsed.Response.Body)
	if err != nil {
		return parsed.CustomID, "", err
	}
	return parsed.CustomID, content, nil
}

func decodeBatch(data []byte) (llm.RemoteBatch, error) {
	var b batchObject
	if err := json.Unmarshal(data, &b); err != nil {
		return llm.RemoteBatch{}, errors.Wrap(err, "parse batch response")
	}
	if b.ID == "" {
		return llm.RemoteBatch{}, errors.New("batch response missing id")
	}
	return b.toRemote(), nil
}

var _ llm.BatchProvider = (*Client)(nil)
