package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"scribe/internal/speech"
)

//go:embed static/index.html
var indexHTML []byte

// apiError is a client-visible failure with a fixed status code.
type apiError struct {
	Code   int
	Detail string
}

func (e *apiError) Error() string { return e.Detail }

func badRequest(format string, args ...any) error {
	return &apiError{Code: http.StatusBadRequest, Detail: fmt.Sprintf(format, args...)}
}

// upload describes the file part of a request before its body is read.
type upload struct {
	filename    string
	contentType string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
	Device      string `json:"device"`
	GoVersion   string `json:"go_version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("Health check panicked", "panic", p)
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Detail: fmt.Sprintf("Health check failed: %v", p),
			})
		}
	}()

	status := "not_loaded"
	if s.speech.Ready() {
		status = "loaded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		ModelStatus: status,
		Device:      s.speech.Device(),
		GoVersion:   runtime.Version(),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}

type transcribeResponse struct {
	Filename      string `json:"filename"`
	Transcription string `json:"transcription"`
	Status        string `json:"status"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	// readiness is checked before any of the body is consumed
	if !s.speech.Ready() {
		s.fail(w, r, speech.ErrNotLoaded)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.upload.MaxBytes)

	part, err := filePart(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer part.Close()

	up := upload{filename: part.FileName(), contentType: part.Header.Get("Content-Type")}
	text, err := s.transcribe(r.Context(), getRequestID(r), up, part)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.RecordTranscription("success")
	writeJSON(w, http.StatusOK, transcribeResponse{
		Filename:      up.filename,
		Transcription: text,
		Status:        "success",
	})
}

// filePart advances the multipart stream to the "file" field without
// buffering any part to disk.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("Expected a multipart/form-data upload")
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, badRequest("Missing form field \"file\"")
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, err
			}
			return nil, badRequest("Malformed multipart body: %v", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// transcribe validates up, spools body into a scratch file and runs the
// pipeline on it. The scratch file is removed before returning.
func (s *Server) transcribe(ctx context.Context, id string, up upload, body io.Reader) (string, error) {
	if err := s.checkUpload(up); err != nil {
		return "", err
	}

	path, cleanup, err := s.scratch.Save(body, id, filepath.Ext(up.filename))
	defer cleanup()
	if err != nil {
		return "", err
	}

	s.log.Info("Processing file", "filename", up.filename, "request_id", id)
	text, err := s.speech.TranscribeFile(ctx, path)
	if err != nil {
		return "", err
	}
	s.log.Info("Transcription completed", "filename", up.filename, "request_id", id)
	return text, nil
}

func (s *Server) checkUpload(up upload) error {
	ct := strings.ToLower(strings.TrimSpace(up.contentType))
	if !strings.HasPrefix(ct, "audio/") {
		return badRequest("Please upload an audio file")
	}

	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	ext := strings.ToLower(filepath.Ext(up.filename))
	if !slices.Contains(s.upload.AllowedTypes, ct) && !slices.Contains(s.upload.AllowedExtensions, ext) {
		return badRequest("Unsupported audio format %q", ct)
	}
	return nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// statusOf maps a pipeline error to its HTTP status and client message.
func statusOf(err error) (int, string) {
	var ae *apiError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &ae):
		return ae.Code, ae.Detail
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large: limit is %d bytes", mbe.Limit)
	case errors.Is(err, speech.ErrNotLoaded):
		return http.StatusServiceUnavailable, "Model not loaded. Please check health endpoint."
	case errors.Is(err, speech.ErrBadAudio):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeError(w http.ResponseWriter, err error) int {
	code, detail := statusOf(err)
	writeJSON(w, code, errorResponse{Detail: detail})
	return code
}

// fail writes err and records it against the transcription counters.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := writeError(w, err)
	s.metrics.RecordTranscription(resultLabel(code))
	if code >= 500 {
		s.log.Error("Transcription error", "err", err, "request_id", getRequestID(r))
	}
}

func resultLabel(code int) string {
	switch {
	case code == http.StatusServiceUnavailable:
		return "unavailable"
	case code >= 500:
		return "error"
	case code >= 400:
		return "rejected"
	default:
		return "success"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
