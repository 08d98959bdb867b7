package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// UploadFile uploads a local file to the Gemini Files API using the
// Resumable Upload protocol and returns the resulting file reference. The
// returned File usually starts in the PROCESSING state; callers poll
// GetFile until it becomes ACTIVE or FAILED.
func (c *Client) UploadFile(ctx context.Context, path, displayName, mimeType string) (File, error) {
	if c.apiKey == "" {
		return File{}, fmt.Errorf("API key required")
	}

	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return File{}, fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// Start a resumable session. The upload endpoint lives under
	// /upload/v1beta instead of /v1beta.
	uploadBase := strings.Replace(c.baseURL, "/v1beta", "/upload/v1beta", 1)
	url := fmt.Sprintf("%s/files?key=%s", uploadBase, c.apiKey)

	metadata := map[string]interface{}{
		"file": map[string]string{
			"displayName": displayName,
		},
	}
	jsonMeta, err := json.Marshal(metadata)
	if err != nil {
		return File{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonMeta))
	if err != nil {
		return File{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", size))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("upload start request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return File{}, fmt.Errorf("upload start failed: %w", parseAPIError(resp.StatusCode, body))
	}

	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return File{}, fmt.Errorf("no upload URL returned in headers")
	}

	// Upload the bytes and finalize.
	if _, err := f.Seek(0, 0); err != nil {
		return File{}, fmt.Errorf("failed to rewind file: %w", err)
	}
	reqUpload, err := http.NewRequestWithContext(ctx, "POST", uploadURL, f)
	if err != nil {
		return File{}, err
	}
	reqUpload.ContentLength = size
	reqUpload.Header.Set("X-Goog-Upload-Offset", "0")
	reqUpload.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	respUpload, err := c.httpClient.Do(reqUpload)
	if err != nil {
		return File{}, fmt.Errorf("upload data failed: %w", err)
	}
	defer respUpload.Body.Close()

	if respUpload.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(respUpload.Body)
		return File{}, fmt.Errorf("upload finalization failed: %w", parseAPIError(respUpload.StatusCode, body))
	}

	var result uploadResponse
	if err := json.NewDecoder(respUpload.Body).Decode(&result); err != nil {
		return File{}, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if result.File.Name == "" {
		return File{}, fmt.Errorf("no file reference found in upload response")
	}
	if result.File.DisplayName == "" {
		result.File.DisplayName = displayName
	}

	return result.File, nil
}

// GetFile retrieves current metadata (including processing state) for an
// uploaded file by resource name ("files/...").
func (c *Client) GetFile(ctx context.Context, name string) (File, error) {
	if c.apiKey == "" {
		return File{}, fmt.Errorf("API key required")
	}
	if !strings.HasPrefix(name, "files/") {
		name = "files/" + name
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return File{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return File{}, fmt.Errorf("get file failed: %w", parseAPIError(resp.StatusCode, body))
	}

	var file File
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return File{}, err
	}
	return file, nil
}

// DeleteFile deletes an uploaded file by resource name.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key required")
	}
	if !strings.HasPrefix(name, "files/") {
		name = "files/" + name
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete file failed: %w", parseAPIError(resp.StatusCode, body))
	}
	return nil
}
