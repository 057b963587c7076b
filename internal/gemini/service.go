// Package gemini answers questions grounded on the corpus registered with the
// Gemini Files API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

var ErrEmptyAnswer = errors.New("gemini returned an empty answer")

type Options struct {
	Model   string
	BotName string
	Logger  *slog.Logger
}

type Service struct {
	backend Backend
	model   string
	botName string
	docs    DocumentSet
	logger  *slog.Logger
}

func NewService(backend Backend, opts Options) *Service {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		model:   model,
		botName: strings.TrimPrefix(strings.TrimSpace(opts.BotName), "@"),
		logger:  logger,
	}
}

func (s *Service) Model() string { return s.model }

// Documents returns the currently registered document set.
func (s *Service) Documents() []Document { return s.docs.Snapshot() }

// Replace swaps the registered document set.
func (s *Service) Replace(docs []Document) { s.docs.Replace(docs) }

// ListRemote lists every file currently stored in the Files API.
func (s *Service) ListRemote(ctx context.Context) ([]Document, error) {
	return s.backend.ListFiles(ctx)
}

func (s *Service) DeleteRemote(ctx context.Context, name string) error {
	return s.backend.DeleteFile(ctx, name)
}

// Upload registers one local file, guessing its MIME type from the extension.
func (s *Service) Upload(ctx context.Context, path string) (Document, error) {
	return s.backend.UploadFile(ctx, path, MIMEType(path), filepath.Base(path))
}

// Ask sends text together with the current documents. Failures are returned
// as *AnswerError.
func (s *Service) Ask(ctx context.Context, text string) (string, error) {
	docs := s.docs.Snapshot()
	prompt := BuildPrompt(s.botName, text)
	s.logger.Debug("gemini_prompt", "model", s.model, "documents", len(docs), "prompt", prompt)

	answer, err := s.backend.Generate(ctx, s.model, docs, prompt, generationConfig())
	if err != nil {
		aerr := newAnswerError(err)
		s.logger.Error("gemini_query_failed", "status", aerr.StatusCode, "error", err.Error())
		return "", aerr
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &AnswerError{Err: ErrEmptyAnswer}
	}
	s.logger.Info("gemini_query_ok", "chars", len([]rune(answer)))
	return answer, nil
}

// BuildPrompt wraps a user request in the grounding instruction.
func BuildPrompt(botName, request string) string {
	instruction := fmt.Sprintf("You are `%s`, a chatbot that can only answer to users request based solely on the source documents. "+
		"Reply to the following message using the same language, when returning LaTex formulas, try to translate them to simple text if possible.", botName)
	return instruction + ":\n\n`" + request + "`"
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		CandidateCount:  1,
		Temperature:     genai.Ptr[float32](1),
		TopP:            genai.Ptr[float32](0.95),
		TopK:            genai.Ptr[float32](40),
		MaxOutputTokens: 4096,
	}
}

// MIMEType guesses the upload type of path. Markdown is the fallback since
// the corpus is a docs repository.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case "":
		return "text/markdown"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return "text/markdown"
}
