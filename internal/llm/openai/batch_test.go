package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEncodeRequestLine(t *testing.T) {
	client, err := NewClient("key", "gpt-4o-mini", "http://unused")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	line, err := client.EncodeRequest("ch1", sampleInput())
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if strings.Contains(string(line), "\n") {
		t.Fatalf("request line must be a single line: %s", line)
	}

	var decoded struct {
		CustomID string `json:"custom_id"`
		Method   string `json:"method"`
		URL      string `json:"url"`
		Body     struct {
			Model string `json:"model"`
		} `json:"body"`
	}
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if decoded.CustomID != "ch1" || decoded.Method != "POST" || decoded.URL != "/v1/chat/completions" || decoded.Body.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected request line %+v", decoded)
	}
}

func TestBatchLifecycleRequests(t *testing.T) {
	var uploaded string
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("purpose") != "batch" {
			t.Errorf("expected purpose=batch, got %q", r.FormValue("purpose"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		uploaded = string(data)
		_, _ = w.Write([]byte(`{"id":"file-in"}`))
	})
	mux.HandleFunc("/batches", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["input_file_id"] != "file-in" || payload["completion_window"] != "24h" {
			t.Errorf("unexpected create payload %v", payload)
		}
		_, _ = w.Write([]byte(`{"id":"batch-1","status":"validating","input_file_id":"file-in","created_at":1700000000}`))
	})
	mux.HandleFunc("/batches/batch-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"batch-1","status":"in_progress","request_counts":{"total":4,"completed":1,"failed":0}}`))
	})
	mux.HandleFunc("/files/file-out/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("line1\nline2\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient("key", "gpt-4o-mini", server.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	fileID, err := client.UploadBatchFile(ctx, "job.jsonl", []byte("{}\n"))
	if err != nil || fileID != "file-in" {
		t.Fatalf("UploadBatchFile = %q, %v", fileID, err)
	}
	if uploaded != "{}\n" {
		t.Fatalf("unexpected uploaded content %q", uploaded)
	}

	created, err := client.CreateBatch(ctx, fileID, map[string]string{"job_id": "job-1"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if created.ID != "batch-1" || created.Status != "validating" || created.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected created batch %+v", created)
	}

	remote, err := client.RetrieveBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("RetrieveBatch: %v", err)
	}
	if remote.Total != 4 || remote.Completed != 1 || remote.Status != "in_progress" {
		t.Fatalf("unexpected remote batch %+v", remote)
	}

	content, err := client.FileContent(ctx, "file-out")
	if err != nil || string(content) != "line1\nline2\n" {
		t.Fatalf("FileContent = %q, %v", content, err)
	}
}

func TestDecodeResult(t *testing.T) {
	client := &Client{model: "gpt-4o-mini"}

	tests := []struct {
		name        string
		line        string
		wantID      string
		wantContent string
		wantErr     string
	}{
		{
			name:        "success",
			line:        `{"custom_id":"ch1","response":{"status_code":200,"body":{"choices":[{"message":{"content":"Bonjour"}}]}}}`,
			wantID:      "ch1",
			wantContent: "Bonjour",
		},
		{
			name:    "malformed",
			line:    `{"custom_id":`,
			wantErr: "malformed result line",
		},
		{
			name:    "request error",
			line:    `{"custom_id":"ch2","error":{"code":"server_error","message":"boom"}}`,
			wantID:  "ch2",
			wantErr: "request failed",
		},
		{
			name:    "non-2xx",
			line:    `{"custom_id":"ch3","response":{"status_code":400,"body":{"error":{"message":"bad"}}}}`,
			wantID:  "ch3",
			wantErr: "status 400",
		},
		{
			name:    "empty content",
			line:    `{"custom_id":"ch4","response":{"status_code":200,"body":{"choices":[{"message":{"content":""}}]}}}`,
			wantID:  "ch4",
			wantErr: "empty content",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			id, content, err := client.DecodeResult([]byte(tt.line))
			if id != tt.wantID {
				t.Fatalf("expected id %q, got %q", tt.wantID, id)
			}
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || content != tt.wantContent {
				t.Fatalf("DecodeResult = %q, %v", content, err)
			}
		})
	}
}
