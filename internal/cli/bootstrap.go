// Package cli wires the knowledge engine's components behind the
// komaknowledge command tree: one bootstrap step building shared
// dependencies, thin subcommands on top.
package cli

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/config"
	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/embedding"
	"github.com/t-koma/knowledge/pkg/filelock"
	"github.com/t-koma/knowledge/pkg/ingest"
	"github.com/t-koma/knowledge/pkg/knowledge"
	"github.com/t-koma/knowledge/pkg/search"
)

// app bundles every shared dependency a subcommand needs, built once from
// resolved configuration.
type app struct {
	Settings config.Settings
	Roots    corpus.Roots
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Engine   *knowledge.Engine
	Log      *logrus.Entry
	Close    func() error
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}

func bootstrap(ctx context.Context, configPath, dataRoot string) (*app, error) {
	log := newLogger()

	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	effectiveDataRoot := dataRoot
	if effectiveDataRoot == "" {
		effectiveDataRoot = settings.DataRootOverride
	}
	roots, err := corpus.Resolve(corpus.Overrides{
		DataRoot:           effectiveDataRoot,
		KnowledgeDBPath:    settings.KnowledgeDBPathOverride,
		TypesAllowlistPath: settings.TypesAllowlistPath,
	})
	if err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, roots.DBPath, settings.EmbeddingDim, log.WithField("component", "store"))
	if err != nil {
		return nil, err
	}

	allowlist, err := ingest.LoadAllowlist(roots.TypesPath)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Built as a concrete *embedding.Client and only assigned into the
	// ingest.Embedder / search.Embedder interface fields when non-nil, so a
	// disabled embedder leaves those fields as a true nil interface rather
	// than a non-nil interface wrapping a nil *Client.
	var client *embedding.Client
	if settings.EmbeddingDim > 0 {
		client = embedding.New(embedding.Config{
			Provider:  embedding.Provider(settings.EmbeddingProvider),
			BaseURL:   settings.EmbeddingURL,
			Model:     settings.EmbeddingModel,
			APIKey:    settings.OpenRouterAPIKey,
			Dimension: settings.EmbeddingDim,
			BatchSize: settings.EmbeddingBatch,
		})
	}

	var pipelineEmbedder ingest.Embedder
	var engineEmbedder search.Embedder
	if client != nil {
		pipelineEmbedder = client
		engineEmbedder = client
	}

	locks := filelock.NewRegistry()
	pipeline := &ingest.Pipeline{
		Store:     s,
		Embedder:  pipelineEmbedder,
		Allowlist: allowlist,
		Roots:     roots,
		Locks:     locks,
		Log:       log.WithField("component", "ingest"),
	}

	eng := &knowledge.Engine{
		Store:    s,
		Pipeline: pipeline,
		Embedder: engineEmbedder,
		Roots:    roots,
		Search:   settings.Search,
		Log:      log.WithField("component", "knowledge"),
	}

	return &app{
		Settings: settings,
		Roots:    roots,
		Store:    s,
		Pipeline: pipeline,
		Engine:   eng,
		Log:      log,
		Close:    s.Close,
	}, nil
}
