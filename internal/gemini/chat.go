package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Chat is a conversational session bound to one uploaded document. The
// server is stateless across generateContent calls, so the chat carries the
// full turn history and replays it on every send. Construction is local;
// the first Send performs the first remote call.
//
// A Chat is not safe for concurrent Sends; turns are serialized by the
// caller.
type Chat struct {
	client      *Client
	id          string
	model       string
	temperature float64
	system      string
	doc         File
	contents    []Content
}

// NewChat creates a chat session bound to doc.
func (c *Client) NewChat(doc File, opts ChatOptions) *Chat {
	return &Chat{
		client:      c,
		id:          uuid.NewString(),
		model:       opts.Model,
		temperature: opts.Temperature,
		system:      opts.SystemPrompt,
		doc:         doc,
	}
}

// ID returns the client-side session identifier.
func (ch *Chat) ID() string { return ch.id }

// History returns the accumulated conversation contents.
func (ch *Chat) History() []Content { return ch.contents }

// Send submits one user message and returns the model's reply text. The
// bound document is attached to the first turn only; later turns rely on
// the replayed history. On failure the chat history is left untouched, so
// the session stays usable and the turn can be retried.
//
// Errors are surfaced immediately without retry; transient classification
// is available via IsTransient for reporting.
func (ch *Chat) Send(ctx context.Context, text string) (string, error) {
	if ch.client.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty message")
	}

	// Apply the client timeout when the context carries no deadline and the
	// client has one configured.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && ch.client.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ch.client.httpClient.Timeout)
		defer cancel()
	}

	parts := []Part{{Text: text}}
	if len(ch.contents) == 0 && ch.doc.URI != "" {
		parts = append([]Part{{FileData: &FileData{
			FileURI:  ch.doc.URI,
			MIMEType: ch.doc.MIMEType,
		}}}, parts...)
	}
	userContent := Content{Role: "user", Parts: parts}

	reqBody := generateRequest{
		Contents: append(append([]Content{}, ch.contents...), userContent),
		GenerationConfig: GenerationConfig{
			Temperature: ch.temperature,
		},
		SafetySettings: defaultSafetySettings,
	}
	if ch.system != "" {
		reqBody.SystemInstruction = &Content{
			Parts: []Part{{Text: ch.system}},
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", ch.client.baseURL, ch.model, ch.client.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ch.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, body)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if genResp.Error != nil {
		return "", &APIError{
			StatusCode: genResp.Error.Code,
			Status:     genResp.Error.Status,
			Message:    genResp.Error.Message,
		}
	}
	if len(genResp.Candidates) == 0 {
		return "", fmt.Errorf("no reply returned")
	}

	var reply strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		reply.WriteString(part.Text)
	}
	replyText := strings.TrimSpace(reply.String())
	if replyText == "" {
		return "", fmt.Errorf("empty reply returned (finish reason: %s)", genResp.Candidates[0].FinishReason)
	}

	// Commit the exchange only after a successful round trip.
	ch.contents = append(ch.contents, userContent, Content{
		Role:  "model",
		Parts: []Part{{Text: replyText}},
	})

	return replyText, nil
}
