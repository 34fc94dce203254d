package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient builds the shared retryable client every HTTP-speaking
// adapter in this package uses, grounded on the teacher's
// clients.NewPeriodicCallbackClient retry settings: bounded retries with a
// short exponential backoff window, not an unbounded one, since these
// calls sit on the synchronous executor path.
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}
	return client.StandardClient()
}

// postJSON is the shared request/response helper for the HTTP-backed
// transcription and topic-extraction adapters.
func postJSON(ctx context.Context, client *http.Client, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("providers: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("providers: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("providers: calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("providers: %s returned status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPTranscriber calls a transcription backend over HTTP. The base URL and
// model name are resolver-driven, never hardcoded, since different tenants
// may point at different deployments.
type HTTPTranscriber struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewHTTPTranscriber(baseURL, model string) *HTTPTranscriber {
	return &HTTPTranscriber{BaseURL: baseURL, Model: model, Client: NewHTTPClient(5 * time.Minute)}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (TranscriptionResult, error) {
	var out TranscriptionResult
	body := map[string]interface{}{
		"audio_path":  req.AudioPath,
		"language":    req.Language,
		"prompt":      req.Prompt,
		"temperature": req.Temperature,
		"model":       t.Model,
	}
	if err := postJSON(ctx, t.Client, t.BaseURL+"/v1/transcriptions", body, &out); err != nil {
		return TranscriptionResult{}, err
	}
	return out, nil
}

// HTTPTopicExtractor calls a topic-extraction backend for a single model
// tier; the executor itself drives the primary/secondary fallback chain
// spec.md §4.9.4 requires, not this adapter.
type HTTPTopicExtractor struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPTopicExtractor(baseURL string) *HTTPTopicExtractor {
	return &HTTPTopicExtractor{BaseURL: baseURL, Client: NewHTTPClient(2 * time.Minute)}
}

func (t *HTTPTopicExtractor) ExtractTopics(ctx context.Context, req TopicExtractionRequest) ([]Topic, error) {
	var out struct {
		Topics []Topic `json:"topics"`
	}
	body := map[string]interface{}{
		"segments_text": req.SegmentsText,
		"granularity":   req.Granularity,
		"model":         req.Model,
	}
	if err := postJSON(ctx, t.Client, t.BaseURL+"/v1/topics", body, &out); err != nil {
		return nil, err
	}
	return out.Topics, nil
}

// HTTPDownloader streams a recording source URL to dst, sending the
// bearer token the caller supplies; provider-specific token refresh itself
// lives in internal/credentials.
type HTTPDownloader struct {
	Client *http.Client
}

func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: NewHTTPClient(30 * time.Minute)}
}

func (d *HTTPDownloader) Download(ctx context.Context, sourceURL, accessToken string, dst io.WriteCloser) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("providers: building download request: %w", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("providers: downloading %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("providers: download %s returned status %d", sourceURL, resp.StatusCode)
	}

	buf := make([]byte, 256*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("providers: writing downloaded bytes: %w", werr)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("providers: reading download body: %w", readErr)
		}
	}
}
