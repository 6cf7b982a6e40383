// Package transcription turns any pitch input (audio, text file or typed text)
// into plain text.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
)

type Kind string

const (
	KindAudio    Kind = "audio"
	KindTextFile Kind = "textFile"
	KindText     Kind = "text"
)

const (
	DefaultMaxAudioBytes int64 = 25 << 20
	DefaultLanguage            = "en"
	maxTextFileBytes     int64 = 1 << 20
)

func (k Kind) Valid() bool {
	switch k {
	case KindAudio, KindTextFile, KindText:
		return true
	}
	return false
}

// Source is one pitch input. Text is used for KindText; Data for the others.
type Source struct {
	Kind     Kind
	Text     string
	Data     io.Reader
	Filename string
	MimeType string
}

// Transcriber is the speech-to-text capability. *llm.Client satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath, language string) (string, error)
}

type Config struct {
	Language      string
	MaxAudioBytes int64
	TempDir       string
}

type Adapter struct {
	transcriber Transcriber
	cfg         Config
}

func NewAdapter(transcriber Transcriber, cfg Config) *Adapter {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	return &Adapter{transcriber: transcriber, cfg: cfg}
}

// ToText returns the pitch text for src. Only the audio path calls out.
func (a *Adapter) ToText(ctx context.Context, src Source) (string, error) {
	var (
		text string
		err  error
	)

	switch src.Kind {
	case KindText:
		text, err = fromText(src.Text)
	case KindTextFile:
		text, err = fromTextFile(src)
	case KindAudio:
		text, err = a.fromAudio(ctx, src)
	default:
		err = apperrors.NewInvalidInputError(fmt.Sprintf("unsupported input type %q", src.Kind))
	}

	status := "success"
	if err != nil {
		status = strings.ToLower(string(apperrors.CodeOf(err)))
	}
	metrics.TranscriptionsTotal.WithLabelValues(string(src.Kind), status).Inc()

	return text, err
}

func fromText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewInvalidInputError("pitch text is empty")
	}
	return text, nil
}

func fromTextFile(src Source) (string, error) {
	if !isPlainText(src.MimeType) {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("text file must be text/plain, got %q", src.MimeType))
	}
	if src.Data == nil {
		return "", apperrors.NewInvalidInputError("text file is empty")
	}

	data, err := io.ReadAll(io.LimitReader(src.Data, maxTextFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}
	if int64(len(data)) > maxTextFileBytes {
		return "", apperrors.NewInvalidInputError("text file is too large")
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", apperrors.NewInvalidInputError("text file is not valid UTF-8")
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewInvalidInputError("text file is empty")
	}
	return text, nil
}

func isPlainText(declared string) bool {
	mediaType, _, err := mime.ParseMediaType(declared)
	return err == nil && mediaType == "text/plain"
}

func (a *Adapter) fromAudio(ctx context.Context, src Source) (string, error) {
	if src.Data == nil {
		return "", apperrors.NewInvalidInputError("audio payload is empty")
	}

	data, err := io.ReadAll(io.LimitReader(src.Data, a.cfg.MaxAudioBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		return "", apperrors.NewInvalidInputError("audio payload is empty")
	}
	if int64(len(data)) > a.cfg.MaxAudioBytes {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("audio exceeds %d bytes", a.cfg.MaxAudioBytes))
	}

	detected := mimetype.Detect(data)
	if !isMedia(src.MimeType) && !isMedia(detected.String()) {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("unsupported audio type %q", detected.String()))
	}

	path, err := a.spool(data, src.Filename, detected.Extension())
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove temp audio file", zap.String("path", path), zap.Error(err))
		}
	}()

	text, err := a.transcriber.Transcribe(ctx, path, a.cfg.Language)
	if err != nil {
		logger.Error("Transcription failed", zap.String("filename", src.Filename), zap.Error(err))
		return "", apperrors.NewTranscriptionServiceError(err)
	}

	text = strings.TrimSpace(text)
	logger.Info("Audio transcribed",
		zap.String("filename", src.Filename),
		zap.Int("bytes", len(data)),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}

// spool writes the audio to a temp file. The provider infers the format from
// the file extension, so one is always present.
func (a *Adapter) spool(data []byte, filename, detectedExt string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = detectedExt
	}

	f, err := os.CreateTemp(a.cfg.TempDir, "pitch-audio-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}

func isMedia(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/")
}
