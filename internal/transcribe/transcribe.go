package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldsync/internal/config"
)

// Client converts a recorded audio file into text. Implementations may fail;
// the sync pipeline absorbs failures and continues with an empty
// transcription rather than blocking delivery on an enrichment step.
type Client interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// NewFromConfig builds a transcription client, or a noop when the capability
// is disabled or unconfigured.
func NewFromConfig(cfg *config.Config) Client {
	if !cfg.Transcription.Enabled || strings.TrimSpace(cfg.Transcription.URL) == "" {
		return noopClient{}
	}
	timeout := time.Duration(cfg.Transcription.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &httpClient{
		url:      cfg.Transcription.URL,
		apiKey:   cfg.Transcription.APIKey,
		language: cfg.Transcription.Language,
		client:   &http.Client{Timeout: timeout},
	}
}

type httpClient struct {
	url      string
	apiKey   string
	language string
	client   *http.Client
}

func (c *httpClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if c.language != "" {
			if err := writer.WriteField("language", c.language); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		formFile, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(formFile, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return decoded.Text, nil
}

type noopClient struct{}

func (noopClient) Transcribe(context.Context, string) (string, error) { return "", nil }
