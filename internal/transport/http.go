package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

const userAgent = "fieldsync/0.1.0"

// HTTPClient implements Client against the project-management backend API.
// Metadata calls carry a short timeout; binary uploads carry a long one.
type HTTPClient struct {
	baseURL      string
	token        string
	createClient *http.Client
	uploadClient *http.Client
}

// NewHTTPClient builds a backend client from configuration.
func NewHTTPClient(cfg *config.Config) (*HTTPClient, error) {
	base := strings.TrimSpace(cfg.Backend.BaseURL)
	if base == "" {
		return nil, errors.New("backend.base_url is not configured")
	}
	return &HTTPClient{
		baseURL:      base,
		token:        cfg.Backend.APIToken,
		createClient: &http.Client{Timeout: time.Duration(cfg.Backend.CreateTimeout) * time.Second},
		uploadClient: &http.Client{Timeout: time.Duration(cfg.Backend.UploadTimeout) * time.Second},
	}, nil
}

// CreateEntity creates the remote entity and returns its identifier. The
// item's local id rides along as an idempotency key so the backend can
// deduplicate a retry whose original request actually landed.
func (c *HTTPClient) CreateEntity(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("encode create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/entities", bytes.NewReader(body))
	if err != nil {
		return CreateResponse{}, fmt.Errorf("build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	c.decorate(httpReq)

	resp, err := c.createClient.Do(httpReq)
	if err != nil {
		return CreateResponse{}, classifyNetwork("create entity", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CreateResponse{}, classifyStatus(resp.StatusCode, readDetail(resp.Body))
	}

	var decoded CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return CreateResponse{}, fmt.Errorf("%w: decode create response: %w", ErrTransient, err)
	}
	if strings.TrimSpace(decoded.RemoteID) == "" {
		return CreateResponse{}, fmt.Errorf("%w: backend acknowledged creation without an id", ErrTransient)
	}
	return decoded, nil
}

// UploadPart streams one media file to the remote entity.
func (c *HTTPClient) UploadPart(ctx context.Context, remoteID string, part PartUpload) (UploadResponse, error) {
	file, err := os.Open(part.Path)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("%w: open media file: %w", ErrPermanent, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return UploadResponse{}, fmt.Errorf("%w: stat media file: %w", ErrPermanent, err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if err := writer.WriteField("media_type", part.MediaType); err != nil {
			pw.CloseWithError(err)
			return
		}
		formFile, err := writer.CreateFormFile("file", filepath.Base(part.Name))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := io.Reader(file)
		if part.Progress != nil {
			src = &progressReader{r: file, total: info.Size(), report: part.Progress}
		}
		if _, err := io.Copy(formFile, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	url := fmt.Sprintf("%s/api/entities/%s/parts", c.baseURL, remoteID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.decorate(httpReq)

	resp, err := c.uploadClient.Do(httpReq)
	if err != nil {
		return UploadResponse{}, classifyNetwork("upload part", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UploadResponse{}, classifyStatus(resp.StatusCode, readDetail(resp.Body))
	}

	var decoded UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return UploadResponse{}, fmt.Errorf("%w: decode upload response: %w", ErrTransient, err)
	}
	if strings.TrimSpace(decoded.RemotePartID) == "" {
		return UploadResponse{}, fmt.Errorf("%w: backend acknowledged upload without an id", ErrTransient)
	}
	return decoded, nil
}

// Confirm marks the remote entity complete once every part landed.
func (c *HTTPClient) Confirm(ctx context.Context, remoteID string) error {
	url := fmt.Sprintf("%s/api/entities/%s/confirm", c.baseURL, remoteID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build confirm request: %w", err)
	}
	c.decorate(httpReq)

	resp, err := c.createClient.Do(httpReq)
	if err != nil {
		return classifyNetwork("confirm entity", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, readDetail(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readDetail(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(body))
}

type progressReader struct {
	r       io.Reader
	total   int64
	written int64
	report  func(written, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.written += int64(n)
		p.report(p.written, p.total)
	}
	return n, err
}
