package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Backend is the slice of the Gemini API the service needs.
type Backend interface {
	ListFiles(ctx context.Context) ([]Document, error)
	DeleteFile(ctx context.Context, name string) error
	UploadFile(ctx context.Context, path, mimeType, displayName string) (Document, error)
	Generate(ctx context.Context, model string, docs []Document, prompt string, cfg *genai.GenerateContentConfig) (string, error)
}

type ClientOptions struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type genaiBackend struct {
	client *genai.Client
}

// NewBackend builds a Backend on the Gemini Developer API.
func NewBackend(ctx context.Context, opts ClientOptions) (Backend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini: missing api key")
	}
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions.BaseURL = base
	}
	if opts.Timeout > 0 {
		timeout := opts.Timeout
		cfg.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &genaiBackend{client: client}, nil
}

func (b *genaiBackend) ListFiles(ctx context.Context) ([]Document, error) {
	var out []Document
	for f, err := range b.client.Files.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, documentFromFile(f))
	}
	return out, nil
}

func (b *genaiBackend) DeleteFile(ctx context.Context, name string) error {
	_, err := b.client.Files.Delete(ctx, name, nil)
	return err
}

func (b *genaiBackend) UploadFile(ctx context.Context, path, mimeType, displayName string) (Document, error) {
	f, err := b.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return Document{}, err
	}
	return documentFromFile(f), nil
}

func (b *genaiBackend) Generate(ctx context.Context, model string, docs []Document, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	parts := make([]*genai.Part, 0, len(docs)+1)
	for _, d := range docs {
		parts = append(parts, genai.NewPartFromURI(d.URI, d.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := b.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func documentFromFile(f *genai.File) Document {
	if f == nil {
		return Document{}
	}
	return Document{
		Name:           f.Name,
		DisplayName:    f.DisplayName,
		URI:            f.URI,
		MIMEType:       f.MIMEType,
		CreateTime:     f.CreateTime,
		ExpirationTime: f.ExpirationTime,
		SHA256:         f.Sha256Hash,
	}
}
