package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"trigear/internal/cache"
	"trigear/internal/commerce"
	"trigear/internal/config"
)

const (
	cachePrefix  = "products/"
	allProducts  = "all"
	taggedPrefix = "tag/"
)

// ErrUnknownMarket is returned for a market id that is not configured.
var ErrUnknownMarket = errors.New("unknown market")

type TokenSource interface {
	Token(ctx context.Context, cred commerce.Credential, scope string) (commerce.AccessToken, error)
	Clear()
}

type Catalog interface {
	FetchList(ctx context.Context, token commerce.AccessToken, params commerce.CatalogListParams) (*commerce.Document, error)
}

// Service lists display products for a market. Results are cached per
// market and tag until cleared explicitly.
type Service struct {
	cfg     *config.Config
	tokens  TokenSource
	catalog Catalog
	cache   cache.ListCache
	group   singleflight.Group
}

func NewService(cfg *config.Config, tokens TokenSource, catalog Catalog, c cache.ListCache) *Service {
	return &Service{cfg: cfg, tokens: tokens, catalog: catalog, cache: c}
}

// cacheKey keeps unfiltered and tag-filtered listings in separate namespaces
// so no tag value can collide with the unfiltered entry.
func cacheKey(marketID, tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return cachePrefix + marketID + "/" + allProducts
	}
	return cachePrefix + marketID + "/" + taggedPrefix + url.PathEscape(tag)
}

// Market resolves a market id, with the empty id meaning the default market.
func (s *Service) Market(id string) (config.Market, error) {
	if err := s.cfg.Validate(); err != nil {
		return config.Market{}, err
	}
	m, ok := s.cfg.Market(id)
	if !ok {
		return config.Market{}, fmt.Errorf("%w: %q", ErrUnknownMarket, id)
	}
	return m, nil
}

// Markets returns the configured markets, default first.
func (s *Service) Markets() []config.Market {
	return append([]config.Market{}, s.cfg.Markets...)
}

// List returns the projected products of a market, optionally limited to one
// tag. Tag-filtered listings are only cached for tags the market's unfiltered
// listing actually carries.
func (s *Service) List(ctx context.Context, marketID, tag string) ([]commerce.DisplayProduct, error) {
	market, err := s.Market(marketID)
	if err != nil {
		return nil, err
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return s.listing(ctx, market, "", true)
	}

	all, err := s.listing(ctx, market, "", true)
	if err != nil {
		return nil, err
	}
	return s.listing(ctx, market, tag, hasTag(all, tag))
}

func hasTag(products []commerce.DisplayProduct, name string) bool {
	return lo.ContainsBy(products, func(p commerce.DisplayProduct) bool {
		return lo.ContainsBy(p.Tags, func(t commerce.DisplayTag) bool {
			return t.Name == name
		})
	})
}

// listing loads one listing, sharing the upstream fetch between concurrent
// callers. The fetch runs detached from any single caller's cancellation;
// a caller that gives up returns its own context error while the others wait.
func (s *Service) listing(ctx context.Context, market config.Market, tag string, cacheable bool) ([]commerce.DisplayProduct, error) {
	key := cacheKey(market.ID, tag)
	if cacheable {
		if products, ok := s.fromCache(ctx, key); ok {
			return products, nil
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if cacheable {
			if products, ok := s.fromCache(fctx, key); ok {
				return products, nil
			}
		}
		products, err := s.load(fctx, market, tag)
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.store(fctx, key, products)
		}
		return products, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]commerce.DisplayProduct), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Product finds one product by code within a market's full listing.
func (s *Service) Product(ctx context.Context, marketID, code string) (commerce.DisplayProduct, bool, error) {
	products, err := s.List(ctx, marketID, "")
	if err != nil {
		return commerce.DisplayProduct{}, false, err
	}
	for _, p := range products {
		if p.Code == code {
			return p, true, nil
		}
	}
	return commerce.DisplayProduct{}, false, nil
}

func (s *Service) load(ctx context.Context, market config.Market, tag string) ([]commerce.DisplayProduct, error) {
	token, err := s.tokens.Token(ctx, s.cfg.Credential(), market.Scope)
	if err != nil {
		return nil, err
	}
	doc, err := s.catalog.FetchList(ctx, token, commerce.CatalogListParams{
		ListID:    market.ListID,
		TagFilter: tag,
		PageSize:  s.cfg.Commerce.PageSize,
		Fields:    commerce.DefaultFieldSelections(),
	})
	if err != nil {
		return nil, err
	}
	products, err := commerce.ProjectWith(doc, commerce.ProjectOptions{PreferCatalogImage: s.cfg.Commerce.PreferCatalogImages})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "loaded products", "market", market.ID, "tag", tag, "count", len(products))
	return products, nil
}

func (s *Service) fromCache(ctx context.Context, key string) ([]commerce.DisplayProduct, bool) {
	rc, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.WarnContext(ctx, "product cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	defer func() {
		_ = rc.Close()
	}()
	body, err := io.ReadAll(rc)
	if err != nil {
		slog.WarnContext(ctx, "product cache read failed", "key", key, "error", err)
		return nil, false
	}
	var products []commerce.DisplayProduct
	if err := json.Unmarshal(body, &products); err != nil {
		slog.WarnContext(ctx, "discarding corrupt product cache entry", "key", key, "error", err)
		return nil, false
	}
	return products, true
}

func (s *Service) store(ctx context.Context, key string, products []commerce.DisplayProduct) {
	body, err := json.Marshal(products)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode products for cache", "key", key, "error", err)
		return
	}
	if err := s.cache.Put(ctx, key, string(body), cache.Unconditional()); err != nil {
		slog.WarnContext(ctx, "product cache write failed", "key", key, "error", err)
	}
}

// Clear drops every cached listing and every cached access token.
func (s *Service) Clear(ctx context.Context) error {
	removed, err := cache.DeletePrefix(ctx, s.cache, cachePrefix)
	s.tokens.Clear()
	if err != nil {
		return fmt.Errorf("failed to clear product cache: %w", err)
	}
	slog.InfoContext(ctx, "cleared product cache", "entries", removed)
	return nil
}

// ClearMarket drops the cached listings of one market.
func (s *Service) ClearMarket(ctx context.Context, marketID string) error {
	market, err := s.Market(marketID)
	if err != nil {
		return err
	}
	removed, err := cache.DeletePrefix(ctx, s.cache, cachePrefix+market.ID+"/")
	if err != nil {
		return fmt.Errorf("failed to clear product cache for %s: %w", market.ID, err)
	}
	slog.InfoContext(ctx, "cleared product cache", "market", market.ID, "entries", removed)
	return nil
}

// Ready succeeds once the default market's token can be obtained.
func (s *Service) Ready(ctx context.Context) error {
	market, err := s.Market("")
	if err != nil {
		return err
	}
	_, err = s.tokens.Token(ctx, s.cfg.Credential(), market.Scope)
	return err
}

// FilterByCategory keeps products carrying a tag with the given slug.
func FilterByCategory(products []commerce.DisplayProduct, slug string) []commerce.DisplayProduct {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return products
	}
	return lo.Filter(products, func(p commerce.DisplayProduct, _ int) bool {
		return lo.ContainsBy(p.Tags, func(t commerce.DisplayTag) bool {
			return t.Slug == slug
		})
	})
}
