package summarize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

func completionJSON(content string) string {
	resp := Response{
		ID: "chatcmpl-test",
		Choices: []Choice{{
			Message:      ChoiceMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestClient(t *testing.T, baseURL string, retry RetryConfig) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:        baseURL,
		APIKey:         "sk-test",
		Model:          "gpt-4o-mini",
		RequestTimeout: 5 * time.Second,
		Retry:          retry,
	}, observability.Nop())
	require.NoError(t, err)
	return c
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(ClientConfig{}, observability.Nop())
	require.Error(t, err)
	assert.True(t, domain.RunFatal(err), "a missing key aborts the run before any document is touched")
}

func TestSummarizePageSendsVisionPayload(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "page_003.png")
	imageBytes := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}
	require.NoError(t, os.WriteFile(imagePath, imageBytes, 0o644))

	var captured Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		io.WriteString(w, completionJSON("  An invoice from Acme Corp dated 2024-03-01.  "))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(0))
	summary, err := client.SummarizePage(context.Background(), imagePath, 3)
	require.NoError(t, err)
	assert.Equal(t, "An invoice from Acme Corp dated 2024-03-01.", summary)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.Equal(t, 200, captured.MaxTokens)
	require.Len(t, captured.Messages, 1)
	require.Len(t, captured.Messages[0].Content, 2)

	text := captured.Messages[0].Content[0]
	assert.Equal(t, "text", text.Type)
	assert.Contains(t, text.Text, "page 3")

	img := captured.Messages[0].Content[1]
	assert.Equal(t, "image_url", img.Type)
	require.NotNil(t, img.ImageURL)
	wantURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)
	assert.Equal(t, wantURL, img.ImageURL.URL)
}

func TestSummarizeDocumentPayload(t *testing.T) {
	var captured Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, completionJSON("A supply agreement between Acme and Globex."))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(0))
	lines := []string{
		"Page 1: Cover page of a supply agreement.",
		"Page 2: Payment terms, net 30.",
	}
	summary, err := client.SummarizeDocument(context.Background(), lines)
	require.NoError(t, err)
	assert.Equal(t, "A supply agreement between Acme and Globex.", summary)

	assert.Equal(t, 250, captured.MaxTokens)
	require.Len(t, captured.Messages, 1)
	require.Len(t, captured.Messages[0].Content, 1)
	prompt := captured.Messages[0].Content[0].Text
	assert.Contains(t, prompt, "Page 1: Cover page of a supply agreement.")
	assert.Contains(t, prompt, "Page 2: Payment terms, net 30.")
	assert.Contains(t, prompt, "2-3 sentence")
}

func TestRetryOnRateLimitThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, completionJSON("Second attempt worked."))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(3))
	summary, err := client.SummarizeDocument(context.Background(), []string{"Page 1: x"})
	require.NoError(t, err)
	assert.Equal(t, "Second attempt worked.", summary)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNoRetryOnAuthFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(3))
	_, err := client.SummarizeDocument(context.Background(), []string{"Page 1: x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(2))
	_, err := client.SummarizeDocument(context.Background(), []string{"Page 1: x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "initial attempt plus two retries")
}

func TestEmptyChoicesIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"x","choices":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(0))
	_, err := client.SummarizeDocument(context.Background(), []string{"Page 1: x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestBlankContentIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionJSON("   "))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, fastRetry(0))
	_, err := client.SummarizeDocument(context.Background(), []string{"Page 1: x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty summary")
}

func TestInFlightCallFinishesAfterCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, completionJSON("Finished despite cancellation."))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, server.URL, fastRetry(0))

	done := make(chan struct{})
	var summary string
	var err error
	go func() {
		summary, err = client.SummarizeDocument(ctx, []string{"Page 1: x"})
		close(done)
	}()

	// Cancel while the request is being served, then let the server answer.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)
	<-done

	require.NoError(t, err, "an issued call runs to completion")
	assert.Equal(t, "Finished despite cancellation.", summary)
}

func TestNoFurtherAttemptsAfterCancel(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel() // run is canceled while this retryable failure is in flight
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, RetryConfig{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: time.Second})
	_, err := client.SummarizeDocument(ctx, []string{"Page 1: x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cancellation stops the retry loop")
}
