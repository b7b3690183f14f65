package pkg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
	}))
}

func collectFragments(s Stream) ([]string, error) {
	var out []string
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frag.Content)
	}
}

func TestOpenStreamDeliversFragmentsInOrder(t *testing.T) {
	srv := sseServer(t, []string{
		`{"response": "Hi "}`,
		`{"response": "there"}`,
		`{"response": "!"}`,
		`[DONE]`,
	})
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	stream, err := client.OpenStream(context.Background(), "hello", Options{})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := collectFragments(stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi ", "there", "!"}, frags)
}

func TestOpenStreamAcceptsAlternateTextFields(t *testing.T) {
	srv := sseServer(t, []string{
		`{"text": "a"}`,
		`{"content": "b"}`,
		`{"delta": {"content": "c"}}`,
		`{"done": true}`,
	})
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	stream, err := client.OpenStream(context.Background(), "hello", Options{})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := collectFragments(stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, frags)
}

func TestOpenStreamErrorChunkIsTerminal(t *testing.T) {
	srv := sseServer(t, []string{
		`{"response": "Hel"}`,
		`{"error": "model overloaded"}`,
		`{"response": "never delivered"}`,
	})
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	stream, err := client.OpenStream(context.Background(), "hello", Options{})
	require.NoError(t, err)
	defer stream.Close()

	frag, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", frag.Content)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")

	// Terminal: no further events
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestOpenStreamSkipsMalformedChunks(t *testing.T) {
	srv := sseServer(t, []string{
		`{"response": "ok"}`,
		`{not json`,
		`{"response": "fine"}`,
		`[DONE]`,
	})
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	stream, err := client.OpenStream(context.Background(), "hello", Options{})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := collectFragments(stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "fine"}, frags)
}

func TestOpenStreamHandlesOversizedFragments(t *testing.T) {
	// One event line well past bufio's default 64KB cap
	big := strings.Repeat("a", 100*1024)
	srv := sseServer(t, []string{
		fmt.Sprintf(`{"response": %q}`, big),
		`{"response": "tail"}`,
		`[DONE]`,
	})
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	stream, err := client.OpenStream(context.Background(), "hello", Options{})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := collectFragments(stream)
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, big, frags[0])
	assert.Equal(t, "tail", frags[1])
}

func TestOpenStreamCloseIsIdempotent(t *testing.T) {
	srv := sseServer(t, []string{`{"response": "x"}`, `[DONE]`})
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	stream, err := client.OpenStream(context.Background(), "hello", Options{})
	require.NoError(t, err)

	stream.Close()
	stream.Close()
}

func TestOpenStreamUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	_, err := client.OpenStream(context.Background(), "hello", Options{})
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusServiceUnavailable, ue.Status)
	assert.True(t, ue.Retryable())
}

func TestCompleteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response":         "Hi there!",
			"tokens_used":      42,
			"conversation_id":  "conv-1",
			"personality_used": "helpful",
		})
	}))
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	completion, err := client.Complete(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", completion.Text)
	assert.Equal(t, int64(42), completion.TokensUsed)
	assert.Equal(t, "conv-1", completion.ConversationID)
	assert.Equal(t, "helpful", completion.PersonalityUsed)
}

func TestCompleteNonSuccessIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewRadonClient(srv.URL, "test-key", time.Second)
	_, err := client.Complete(context.Background(), "hello", Options{})
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.False(t, ue.Retryable())
	assert.Contains(t, ue.Body, "bad prompt")
}
