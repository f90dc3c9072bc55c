// README: Wires config into stores, providers, caches and the chat service; shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log"

	"outing/internal/ai"
	"outing/internal/config"
	"outing/internal/infra"
	"outing/internal/maps"
	"outing/internal/modules/conversation"
	"outing/internal/modules/extract"
	"outing/internal/modules/planner"
	"outing/internal/modules/usage"
	"outing/internal/service"
)

type App struct {
	Config    config.Config
	Chat      *service.ChatService
	Extractor *extract.Extractor
	Keywords  *extract.KeywordExtractor
	Places    *maps.PlacesService
	Usage     *usage.Store // nil without OUTING_DB_DSN

	sessions     *conversation.Service
	cachedPlaces *maps.CachedPlaces
	geocoder     *maps.CachedGeocoder
	closers      []func()
}

// New builds every collaborator. Redis and Postgres are optional.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var store conversation.Store = conversation.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store = conversation.NewRedisStore(client)
		log.Printf("session store: redis %s", cfg.Redis.Addr)
	} else {
		log.Printf("session store: memory")
	}

	var ledger usage.Recorder
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.Usage = usage.NewStore(pool)
		ledger = a.Usage
	}

	mapsOpts := maps.Options{Language: cfg.Maps.Language, Region: cfg.Maps.Region}
	places, err := maps.NewPlacesService(cfg.Maps.APIKey, mapsOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	routes, err := maps.NewRouteService(cfg.Maps.APIKey, mapsOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Places = places
	a.cachedPlaces = maps.NewCachedPlaces(places, maps.DefaultCacheSize)
	a.geocoder = maps.NewCachedGeocoder(routes, maps.DefaultCacheSize)

	gen, err := a.generator(ctx, places, ledger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Keywords, err = extract.NewKeywordExtractor()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Extractor = extract.NewExtractor(gen, cfg.AI.ExtractTemperature)

	sessions := conversation.NewService(store, cfg.Session)
	a.Chat = service.NewChatService(service.ChatDeps{
		Sessions:  sessions,
		Keywords:  a.Keywords,
		Extractor: a.Extractor,
		Planner:   planner.NewPipeline(gen, a.cachedPlaces, routes),
		Geocoder:  a.geocoder,
	}, service.ChatOptions{
		Mode:                cfg.Dialogue.Mode,
		ShowMoreTemperature: cfg.AI.ShowMoreTemperature,
	})
	a.sessions = sessions
	return a, nil
}

func (a *App) generator(ctx context.Context, retriever ai.Retriever, ledger usage.Recorder) (ai.Generator, error) {
	cfg := a.Config.AI
	var inner ai.Generator
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err := ai.NewGeminiProvider(ctx, cfg.GeminiKey, ai.GeminiOptions{
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Retriever:       retriever,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		inner = p
	case config.ProviderOpenAI:
		inner = ai.NewOpenAIProvider(cfg.OpenAIKey, ai.OpenAIOptions{
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Retriever:       retriever,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	log.Printf("generation provider: %s (%s)", cfg.Provider, cfg.Model)
	return usage.NewMeteredGenerator(inner, cfg.Provider, cfg.Model, ledger), nil
}

// RunSweeper removes idle sessions until ctx is cancelled.
func (a *App) RunSweeper(ctx context.Context) {
	a.sessions.RunSweeper(ctx)
}

// CacheStats reports hit/miss counters for every lookup cache.
func (a *App) CacheStats() map[string]maps.CacheStats {
	stats := a.cachedPlaces.Stats()
	stats["geocode"] = a.geocoder.Stats()
	return stats
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
