package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/gemini"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/reloadgate"
)

var ErrNoDocuments = errors.New("no documents could be registered")

type Syncer interface {
	Sync(ctx context.Context) error
}

// Registry is where documents are registered. *gemini.Service implements it.
type Registry interface {
	ListRemote(ctx context.Context) ([]gemini.Document, error)
	DeleteRemote(ctx context.Context, name string) error
	Upload(ctx context.Context, path string) (gemini.Document, error)
	Replace(docs []gemini.Document)
}

type ReloaderOptions struct {
	Root       string
	Extensions []string
	Logger     *slog.Logger
}

// Reloader refreshes the mirror and re-registers every eligible file. Reload
// must not run concurrently with itself; callers serialise through a
// reloadgate.Gate.
type Reloader struct {
	syncer   Syncer
	registry Registry
	root     string
	exts     []string
	logger   *slog.Logger
}

func NewReloader(syncer Syncer, registry Registry, opts ReloaderOptions) *Reloader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return &Reloader{
		syncer:   syncer,
		registry: registry,
		root:     opts.Root,
		exts:     exts,
		logger:   logger,
	}
}

func (r *Reloader) Reload(ctx context.Context) error {
	start := time.Now()
	if r.syncer != nil {
		if err := r.syncer.Sync(ctx); err != nil {
			r.logger.Error("corpus_sync_failed", "error", err.Error())
		}
	}

	paths, err := ListFiles(r.root, r.exts)
	if err != nil {
		return fmt.Errorf("list corpus files: %w", err)
	}
	r.logger.Info("corpus_files_found", "count", len(paths), "root", r.root)

	r.deleteRemote(ctx)

	docs := make([]gemini.Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := r.registry.Upload(ctx, path)
		if err != nil {
			r.logger.Warn("corpus_upload_failed", "path", path, "error", err.Error())
			continue
		}
		r.logger.Info("corpus_upload_ok",
			"path", path,
			"name", doc.Name,
			"expires", doc.ExpirationTime.Format(time.RFC3339),
			"sha256", doc.SHA256,
		)
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return fmt.Errorf("%w (%d candidate files)", ErrNoDocuments, len(paths))
	}

	r.registry.Replace(docs)
	r.logger.Info("corpus_reload_ok", "documents", len(docs), "elapsed", time.Since(start).String())
	return nil
}

func (r *Reloader) deleteRemote(ctx context.Context) {
	existing, err := r.registry.ListRemote(ctx)
	if err != nil {
		r.logger.Error("corpus_list_remote_failed", "error", err.Error())
	}
	for _, doc := range existing {
		r.logger.Info("corpus_delete_remote",
			"name", doc.Name,
			"created", doc.CreateTime.Format(time.RFC3339),
			"sha256", doc.SHA256,
		)
		if err := r.registry.DeleteRemote(ctx, doc.Name); err != nil {
			r.logger.Warn("corpus_delete_remote_failed", "name", doc.Name, "error", err.Error())
		}
	}
}

// RunGated reloads as an exclusive phase of gate. When another reload is
// already running it waits for that one instead of starting a second.
func (r *Reloader) RunGated(ctx context.Context, gate *reloadgate.Gate) error {
	ran, err := gate.Run(ctx, r.Reload)
	if !ran && err == nil {
		r.logger.Info("corpus_reload_joined")
	}
	return err
}
