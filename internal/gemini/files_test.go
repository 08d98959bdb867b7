package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestClient(ts *httptest.Server) *Client {
	return &Client{
		apiKey:     "test-key",
		baseURL:    ts.URL + "/v1beta",
		httpClient: ts.Client(),
	}
}

func TestClient_UploadFile(t *testing.T) {
	// Mock server for the Resumable Upload protocol.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Session start
		if r.Method == "POST" && r.URL.Path == "/upload/v1beta/files" {
			if r.Header.Get("X-Goog-Upload-Protocol") != "resumable" {
				t.Errorf("Expected resumable protocol header")
			}
			if r.Header.Get("X-Goog-Upload-Header-Content-Type") != "application/pdf" {
				t.Errorf("Expected declared MIME type header, got %s", r.Header.Get("X-Goog-Upload-Header-Content-Type"))
			}
			w.Header().Set("X-Goog-Upload-URL", "http://"+r.Host+"/upload_session")
			w.WriteHeader(http.StatusOK)
			return
		}

		// 2. Upload bytes
		if r.Method == "POST" && r.URL.Path == "/upload_session" {
			if r.Header.Get("X-Goog-Upload-Command") != "upload, finalize" {
				t.Errorf("Expected upload command")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"file": {"name": "files/abc123", "uri": "https://files/abc123", "displayName": "L1.pdf", "state": "PROCESSING"}}`))
			return
		}

		t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer ts.Close()

	client := newTestClient(ts)

	tmpFile := filepath.Join(t.TempDir(), "L1.pdf")
	if err := os.WriteFile(tmpFile, []byte("test content"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	file, err := client.UploadFile(context.Background(), tmpFile, "L1.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if file.Name != "files/abc123" {
		t.Errorf("Expected name 'files/abc123', got %s", file.Name)
	}
	if file.State != FileStateProcessing {
		t.Errorf("Expected PROCESSING state, got %s", file.State)
	}
}

func TestClient_UploadFile_MissingFile(t *testing.T) {
	client := &Client{apiKey: "test-key", httpClient: http.DefaultClient}
	_, err := client.UploadFile(context.Background(), "/no/such/file.pdf", "file.pdf", "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestClient_GetFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/files/abc123" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name": "files/abc123", "uri": "https://files/abc123", "state": "ACTIVE"}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	file, err := client.GetFile(context.Background(), "files/abc123")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if file.State != FileStateActive {
		t.Errorf("Expected ACTIVE state, got %s", file.State)
	}
}

func TestClient_GetFile_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"code": 404, "message": "File not found", "status": "NOT_FOUND"}}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	_, err := client.GetFile(context.Background(), "files/missing")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if IsTransient(err) {
		t.Error("not-found should be terminal, not transient")
	}
}

func TestClient_DeleteFile(t *testing.T) {
	deleted := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		if r.URL.Path != "/v1beta/files/abc123" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		deleted = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := newTestClient(ts)

	if err := client.DeleteFile(context.Background(), "abc123"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if !deleted {
		t.Error("delete request never reached the server")
	}
}

func TestAPIError_Transient(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		err := &APIError{StatusCode: tc.status}
		if err.Transient() != tc.transient {
			t.Errorf("status %d: expected transient=%v", tc.status, tc.transient)
		}
	}
}
