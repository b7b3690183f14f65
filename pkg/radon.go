package pkg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxEventSize bounds a single SSE event line
const maxEventSize = 1024 * 1024

// Options carries the generation parameters for one inference call
type Options struct {
	MaxNewTokens    int     `json:"max_new_tokens"`
	Temperature     float64 `json:"temperature"`
	EnableFunctions bool    `json:"enable_functions"`
	Personality     string  `json:"personality,omitempty"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	UserID          string  `json:"user_id,omitempty"`
}

type chatRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Options
}

// chatResponse is the upstream payload for both one-shot responses and
// individual stream chunks. The text field has shifted across API versions,
// so all three names are accepted.
type chatResponse struct {
	Response        string          `json:"response,omitempty"`
	Text            string          `json:"text,omitempty"`
	Content         string          `json:"content,omitempty"`
	Delta           *struct {
		Content string `json:"content,omitempty"`
	} `json:"delta,omitempty"`
	Error           string          `json:"error,omitempty"`
	Done            bool            `json:"done,omitempty"`
	TokensUsed      int64           `json:"tokens_used,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	FunctionCalls   json.RawMessage `json:"function_calls,omitempty"`
	PersonalityUsed string          `json:"personality_used,omitempty"`
}

func (r *chatResponse) text() string {
	switch {
	case r.Response != "":
		return r.Response
	case r.Text != "":
		return r.Text
	case r.Content != "":
		return r.Content
	case r.Delta != nil:
		return r.Delta.Content
	}
	return ""
}

// Completion is the result of a one-shot inference call
type Completion struct {
	Text            string
	TokensUsed      int64
	ConversationID  string
	FunctionCalls   json.RawMessage
	PersonalityUsed string
}

// Fragment is one incremental chunk of generated text
type Fragment struct {
	Content         string
	TokensUsed      int64 // nonzero only on chunks that report usage
	ConversationID  string
	FunctionCalls   json.RawMessage
	PersonalityUsed string
}

// RadonClient talks to the Radon inference service
type RadonClient struct {
	baseURL      string
	apiKey       string
	client       *http.Client // one-shot calls, bounded by timeout
	streamClient *http.Client // streaming calls, bounded by request context only
}

func NewRadonClient(baseURL, apiKey string, timeout time.Duration) *RadonClient {
	return &RadonClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

func (c *RadonClient) post(ctx context.Context, client *http.Client, endpoint string, body interface{}) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	return resp, nil
}

// Complete performs a one-shot (non-streaming) chat completion
func (c *RadonClient) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	resp, err := c.post(ctx, c.client, "/chat", chatRequest{Prompt: prompt, Stream: false, Options: opts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("radon error: %s", parsed.Error)
	}
	text := parsed.text()
	if text == "" {
		return nil, fmt.Errorf("unexpected response format from radon")
	}

	return &Completion{
		Text:            text,
		TokensUsed:      parsed.TokensUsed,
		ConversationID:  parsed.ConversationID,
		FunctionCalls:   parsed.FunctionCalls,
		PersonalityUsed: parsed.PersonalityUsed,
	}, nil
}

// Stream is the consumer-facing surface of a fragment stream
type Stream interface {
	// Recv returns the next fragment. io.EOF signals normal completion;
	// any other error is terminal.
	Recv() (Fragment, error)
	// Close releases the underlying transport. Idempotent.
	Close()
}

// OpenStream starts a streaming chat completion. The returned stream must be
// closed by the caller; Close is safe to call more than once and after a
// terminal Recv.
func (c *RadonClient) OpenStream(ctx context.Context, prompt string, opts Options) (Stream, error) {
	resp, err := c.post(ctx, c.streamClient, "/chat", chatRequest{Prompt: prompt, Stream: true, Options: opts})
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	// A single event line can exceed bufio's default 64KB cap when the model
	// emits a large fragment or function-call payload
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	return &FragmentStream{
		body:    resp.Body,
		scanner: scanner,
	}, nil
}

// Health checks upstream liveness
func (c *RadonClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{Status: resp.StatusCode}
	}
	return nil
}

// FragmentStream is a lazy, finite, non-restartable sequence of fragments
// read off one upstream SSE connection. Fragments arrive in generation
// order; after a terminal event (io.EOF or an error) no further events are
// produced and the transport is released.
type FragmentStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	closeOnce sync.Once
	done      bool
}

// Recv returns the next fragment. io.EOF signals normal completion; any
// other error is terminal. The transport is closed before a terminal return.
func (s *FragmentStream) Recv() (Fragment, error) {
	if s.done {
		return Fragment{}, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := line[len("data: "):]
		if data == "[DONE]" {
			return Fragment{}, s.finish(nil)
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunks are skipped, not fatal
			continue
		}
		if chunk.Error != "" {
			return Fragment{}, s.finish(errors.New(chunk.Error))
		}
		if chunk.Done {
			return Fragment{}, s.finish(nil)
		}
		if content := chunk.text(); content != "" {
			return Fragment{
				Content:         content,
				TokensUsed:      chunk.TokensUsed,
				ConversationID:  chunk.ConversationID,
				FunctionCalls:   chunk.FunctionCalls,
				PersonalityUsed: chunk.PersonalityUsed,
			}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Fragment{}, s.finish(fmt.Errorf("error reading stream: %w", err))
	}
	return Fragment{}, s.finish(nil)
}

// finish closes the transport and records the terminal state. A nil cause
// means normal completion and maps to io.EOF.
func (s *FragmentStream) finish(cause error) error {
	s.done = true
	s.Close()
	if cause == nil {
		return io.EOF
	}
	return cause
}

// Close releases the underlying connection. Idempotent.
func (s *FragmentStream) Close() {
	s.closeOnce.Do(func() {
		s.body.Close()
	})
}
