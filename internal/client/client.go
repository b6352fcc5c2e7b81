// Package client talks to a running scribe server over its HTTP and
// WebSocket APIs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribe/pkg/protocol"
)

type Health struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
	Device      string `json:"device"`
	GoVersion   string `json:"go_version"`
}

type ModelInfo struct {
	ModelName           string `json:"model_name"`
	ModelType           string `json:"model_type"`
	SupportedSampleRate string `json:"supported_sample_rate"`
	SupportedFormats    string `json:"supported_formats"`
}

type Transcription struct {
	Filename      string `json:"filename"`
	Transcription string `json:"transcription"`
	Status        string `json:"status"`
}

type Client struct {
	base string
	http *http.Client
}

// New returns a client for the server at base, e.g. "http://localhost:8000".
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.getJSON(ctx, "/health", &h)
	return h, err
}

func (c *Client) Info(ctx context.Context) (ModelInfo, error) {
	var info ModelInfo
	err := c.getJSON(ctx, "/models/info", &info)
	return info, err
}

// Wait polls /health every interval until it answers 200 or ctx is done.
func (c *Client) Wait(ctx context.Context, interval time.Duration) (Health, error) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		h, err := c.Health(ctx)
		if err == nil {
			return h, nil
		}
		log.Debug("Server not ready", "err", err)

		select {
		case <-ctx.Done():
			return Health{}, fmt.Errorf("wait for %s: %w", c.base, ctx.Err())
		case <-t.C:
		}
	}
}

// TranscribeFile uploads the file at path as multipart form data.
func (c *Client) TranscribeFile(ctx context.Context, path string) (Transcription, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcription{}, err
	}
	defer f.Close()

	name := filepath.Base(path)
	return c.Transcribe(ctx, name, ContentType(name), f)
}

// Transcribe streams r to /transcribe without buffering it in memory.
func (c *Client) Transcribe(ctx context.Context, filename, contentType string, r io.Reader) (Transcription, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		h.Set("Content-Type", contentType)

		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transcribe", pr)
	if err != nil {
		pr.Close()
		return Transcription{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Transcription
	if err := c.do(req, &out); err != nil {
		pr.CloseWithError(err)
		return Transcription{}, err
	}
	return out, nil
}

// StreamFile uploads the file at path over /ws/transcribe.
func (c *Client) StreamFile(ctx context.Context, path string, timeout time.Duration) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	conn, err := protocol.Dial(ctx, c.wsURL("/ws/transcribe"), timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	name := filepath.Base(path)
	return conn.Upload(name, ContentType(name), f)
}

func (c *Client) wsURL(path string) string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + path
	case strings.HasPrefix(c.base, "http://"):
		return "ws://" + strings.TrimPrefix(c.base, "http://") + path
	default:
		return c.base + path
	}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

// do sends req and decodes a 200 body into v. Any other status becomes a
// *protocol.RemoteError carrying the server's detail message.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(body))
		}
		return &protocol.RemoteError{Code: resp.StatusCode, Detail: e.Detail}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
	".aac":  "audio/aac",
}

// ContentType guesses the MIME type of an audio file from its name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsUnavailable reports whether err is the server's 503 for a missing model.
func IsUnavailable(err error) bool {
	var re *protocol.RemoteError
	return errors.As(err, &re) && re.Code == http.StatusServiceUnavailable
}
