// Package transcribe converts uploaded audio into text via a hosted
// speech-recognition service, with warm-up retry and model fallback.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ent0n29/ember/internal/reliability"
)

// Outcome tags the result of a transcription attempt so callers can tell
// "no audio" apart from "the service failed".
type Outcome string

const (
	OutcomeTranscribed Outcome = "transcribed"
	OutcomeEmptyInput  Outcome = "empty_input"
	OutcomeFailed      Outcome = "failed"
)

// FailureReply is the spoken-style sentinel used when every attempt failed.
const FailureReply = "I couldn't transcribe the audio. Please try speaking more clearly or in a quieter environment."

// Result is the outcome of one Transcribe call. Text is only meaningful
// when Outcome is OutcomeTranscribed.
type Result struct {
	Outcome Outcome
	Text    string
}

type Config struct {
	BaseURL       string
	APIKey        string
	PrimaryModel  string
	FallbackModel string
	Timeout       time.Duration
	RetryDelay    time.Duration
}

// Client calls a Hugging Face style inference endpoint with raw audio bytes
// as the request body.
type Client struct {
	cfg    Config
	client *http.Client
	sleep  func(time.Duration)
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api-inference.huggingface.co"
	}
	if strings.TrimSpace(cfg.PrimaryModel) == "" {
		cfg.PrimaryModel = "openai/whisper-large-v3"
	}
	if strings.TrimSpace(cfg.FallbackModel) == "" {
		cfg.FallbackModel = "openai/whisper-base"
	}
	if cfg.Timeout <= 0 {
		// Audio decoding on the provider side is slow; be generous.
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  time.Sleep,
	}
}

// Transcribe submits audio to the primary model, retrying once after a
// warm-up signal, then falls back to the secondary model. It never returns
// an error: failure degrades to a tagged sentinel result.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) Result {
	if len(audio) == 0 {
		return Result{Outcome: OutcomeEmptyInput}
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "audio/wav"
	}

	text, status, err := c.submit(ctx, c.cfg.PrimaryModel, audio, contentType)
	if err == nil && text != "" {
		return Result{Outcome: OutcomeTranscribed, Text: text}
	}

	if err == nil && reliability.IsModelLoadingStatus(status) {
		log.Printf("transcribe: model %s warming up, retrying once", c.cfg.PrimaryModel)
		c.sleep(c.cfg.RetryDelay)
		text, status, err = c.submit(ctx, c.cfg.PrimaryModel, audio, contentType)
		if err == nil && text != "" {
			return Result{Outcome: OutcomeTranscribed, Text: text}
		}
	}

	// A 4xx from the primary (bad key, unsupported audio) would fail the
	// fallback model identically; only transport errors, retryable statuses,
	// and empty-but-successful responses warrant the second model.
	if err == nil && status != http.StatusOK && !reliability.IsRetryableHTTPStatus(status) {
		log.Printf("transcribe: model %s returned non-retryable status %d", c.cfg.PrimaryModel, status)
		return Result{Outcome: OutcomeFailed, Text: FailureReply}
	}

	log.Printf("transcribe: falling back to %s", c.cfg.FallbackModel)
	text, _, err = c.submit(ctx, c.cfg.FallbackModel, audio, contentType)
	if err == nil && text != "" {
		return Result{Outcome: OutcomeTranscribed, Text: text}
	}
	if err != nil {
		log.Printf("transcribe: all attempts failed: %v", err)
	} else {
		log.Printf("transcribe: all attempts returned no text")
	}
	return Result{Outcome: OutcomeFailed, Text: FailureReply}
}

// submit posts raw audio to one model. A non-2xx response is reported via
// the status return with empty text, not as an error, so the caller can
// distinguish warm-up from transport failure.
func (c *Client) submit(ctx context.Context, model string, audio []byte, contentType string) (string, int, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/models/" + model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	res, err := c.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", res.StatusCode, err
	}
	if res.StatusCode != http.StatusOK {
		return "", res.StatusCode, nil
	}

	// Providers return either {"text": "..."} or a bare text body.
	var structured struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		return strings.TrimSpace(structured.Text), res.StatusCode, nil
	}
	return strings.TrimSpace(string(body)), res.StatusCode, nil
}

// ContentTypeForFilename maps an upload's extension to the audio MIME type
// expected by the inference API.
func ContentTypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/m4a"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}
