package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"trigear/internal/cache"
	"trigear/internal/commerce"
	"trigear/internal/config"
	"trigear/internal/logsink"
	"trigear/internal/products"
	"trigear/internal/telemetry"
)

type app struct {
	cfg      *config.Config
	tokens   *commerce.TokenProvider
	cache    cache.ListCache
	products *products.Service
}

func newApp(cfg *config.Config) (*app, error) {
	httpClient := commerce.NewHTTPClient(commerce.HTTPClientConfig{
		Timeout: cfg.Commerce.HTTPTimeout,
		Retries: cfg.Commerce.HTTPRetries,
		Logger:  slog.Default(),
	})
	tokens := commerce.NewTokenProvider(commerce.TokenProviderConfig{
		TokenURL:   cfg.TokenURL(),
		HTTPClient: httpClient,
	})
	catalog, err := commerce.NewCatalogFetcher(commerce.CatalogFetcherConfig{
		BaseURL:    cfg.CatalogURL(),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}
	c, err := cache.MakeCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &app{
		cfg:      cfg,
		tokens:   tokens,
		cache:    c,
		products: products.NewService(cfg, tokens, catalog, c),
	}, nil
}

// observability owns everything that must be flushed before exit.
type observability struct {
	sink      *logsink.Handler
	providers *telemetry.Providers
}

func (o *observability) Close(ctx context.Context) {
	if err := o.providers.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
	if o.sink != nil {
		_ = o.sink.Close()
	}
}

// setupLogging installs the default logger: stdout, plus the append blob
// sink and OTLP log export when configured.
func setupLogging(ctx context.Context, cfg *config.Config, levelOverride string) (*observability, error) {
	levelName := cfg.Logging.Level
	if levelOverride != "" {
		levelName = levelOverride
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var console slog.Handler
	if cfg.Logging.Format == "text" {
		console = slog.NewTextHandler(os.Stderr, opts)
	} else {
		console = slog.NewJSONHandler(os.Stderr, opts)
	}
	handlers := []slog.Handler{console}
	obs := &observability{}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	obs.providers = providers
	if h := providers.LogHandler(); h != nil {
		handlers = append(handlers, h)
	}

	if cfg.Logging.SinkEnabled() {
		sink, err := logsink.New(ctx, logsink.FromLogging(cfg.Logging, level))
		if err != nil {
			obs.Close(ctx)
			return nil, fmt.Errorf("failed to create log sink: %w", err)
		}
		obs.sink = sink
		handlers = append(handlers, sink)
	}

	slog.SetDefault(slog.New(logsink.Fanout(handlers...)))
	return obs, nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func runProducts(ctx context.Context, out io.Writer, logLevel, market, tag string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs, err := setupLogging(ctx, cfg, logLevel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		obs.Close(sctx)
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	return printProducts(ctx, out, a.products, market, tag)
}

func printProducts(ctx context.Context, out io.Writer, svc *products.Service, market, tag string) error {
	list, err := svc.List(ctx, market, tag)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func runToken(ctx context.Context, out io.Writer, logLevel, market string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs, err := setupLogging(ctx, cfg, logLevel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		obs.Close(sctx)
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	return printToken(ctx, out, a.tokens, cfg, market)
}

func printToken(ctx context.Context, out io.Writer, tokens products.TokenSource, cfg *config.Config, marketID string) error {
	m, ok := cfg.Market(marketID)
	if !ok {
		return fmt.Errorf("%w: %q", products.ErrUnknownMarket, marketID)
	}
	token, err := tokens.Token(ctx, cfg.Credential(), m.Scope)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "market=%s scope=%s expires=%s\n", m.ID, token.Scope, token.ExpiresAt.UTC().Format(time.RFC3339))
	return err
}
