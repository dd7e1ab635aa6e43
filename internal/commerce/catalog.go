package commerce

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/oapi-codegen/oapi-codegen/v2/pkg/securityprovider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxPageSize is the largest page the catalog API serves.
	MaxPageSize = 100
	// DefaultSort keeps repeated identical requests stable.
	DefaultSort = "-created_at"

	jsonAPIMediaType = "application/vnd.api+json"
	skusPath         = "/api/skus"
)

// CatalogListParams selects one page of SKUs from a list.
type CatalogListParams struct {
	ListID    string
	TagFilter string
	PageSize  int
	Sort      string
	// Fields maps a resource type to the attributes to return for it.
	Fields map[string][]string
}

// DefaultFieldSelections returns the sparse fieldsets the storefront needs.
func DefaultFieldSelections() map[string][]string {
	return map[string][]string{
		"skus":   {"code", "name", "description", "image_url", "reference", "prices", "tags"},
		"prices": {"currency_code", "formatted_amount", "formatted_compare_at_amount"},
		"tags":   {"name"},
	}
}

// Query renders the params as catalog query parameters. Encoding is
// deterministic so identical params always produce the same URL.
func (p CatalogListParams) Query() url.Values {
	q := url.Values{}
	q.Set("filter[sku_list_id_eq]", p.ListID)
	if tag := strings.TrimSpace(p.TagFilter); tag != "" {
		q.Set("filter[tags_cont_any]", tag)
	}
	q.Set("include", "prices,tags")

	types := make([]string, 0, len(p.Fields))
	for typ := range p.Fields {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		if len(p.Fields[typ]) == 0 {
			continue
		}
		q.Set("fields["+typ+"]", strings.Join(p.Fields[typ], ","))
	}

	q.Set("page[size]", strconv.Itoa(p.PageSize))
	sortBy := strings.TrimSpace(p.Sort)
	if sortBy == "" {
		sortBy = DefaultSort
	}
	q.Set("sort", sortBy)
	return q
}

func (p CatalogListParams) validate() error {
	var problems []string
	if strings.TrimSpace(p.ListID) == "" {
		problems = append(problems, "list id is required")
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		problems = append(problems, "page size must be between 1 and "+strconv.Itoa(MaxPageSize))
	}
	if len(problems) > 0 {
		return &CatalogFetchError{ListID: p.ListID, Reason: "invalid params: " + strings.Join(problems, "; ")}
	}
	return nil
}

// CatalogFetcherConfig configures a CatalogFetcher.
type CatalogFetcherConfig struct {
	// BaseURL is the organization API root, e.g. https://acme.commercelayer.io.
	BaseURL    string
	HTTPClient *http.Client
}

// CatalogFetcher retrieves raw JSON:API SKU documents. It does not cache.
type CatalogFetcher struct {
	baseURL    string
	httpClient *http.Client
}

func NewCatalogFetcher(cfg CatalogFetcherConfig) (*CatalogFetcher, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, &ConfigurationError{Missing: []string{"catalog base URL"}}
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, &ConfigurationError{Reason: "invalid catalog base URL: " + err.Error()}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &CatalogFetcher{baseURL: baseURL, httpClient: httpClient}, nil
}

// FetchList requests one page of SKUs with their prices and tags included.
// Either the whole document is returned or an error; there is no partial result.
func (f *CatalogFetcher) FetchList(ctx context.Context, token AccessToken, params CatalogListParams) (*Document, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "commerce.fetch_list", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("commerce.list_id", params.ListID),
		attribute.String("commerce.tag", params.TagFilter),
		attribute.Int("commerce.page_size", params.PageSize),
	)

	doc, err := f.fetch(ctx, token, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog request failed")
		slog.ErrorContext(ctx, "commerce catalog request failed", "listID", params.ListID, "tag", params.TagFilter, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("commerce.results", len(doc.Primary)))
	return doc, nil
}

func (f *CatalogFetcher) fetch(ctx context.Context, token AccessToken, params CatalogListParams) (*Document, error) {
	fail := func(status int, body, reason string, err error) error {
		return &CatalogFetchError{ListID: params.ListID, StatusCode: status, Body: body, Reason: reason, Err: err}
	}

	if strings.TrimSpace(token.Token) == "" {
		return nil, fail(0, "", "empty bearer token", nil)
	}
	bearer, err := securityprovider.NewSecurityProviderBearerToken(token.Token)
	if err != nil {
		return nil, fail(0, "", "bearer token", err)
	}

	listURL, err := url.Parse(f.baseURL + skusPath)
	if err != nil {
		return nil, fail(0, "", "parse catalog URL", err)
	}
	listURL.RawQuery = params.Query().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL.String(), nil)
	if err != nil {
		return nil, fail(0, "", "build request", err)
	}
	req.Header.Set("Accept", jsonAPIMediaType)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if err := bearer.Intercept(ctx, req); err != nil {
		return nil, fail(0, "", "apply bearer token", err)
	}

	slog.DebugContext(ctx, "fetching commerce catalog", "url", listURL.String())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, "", transportReason(ctx, err), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		return nil, fail(resp.StatusCode, "", "read response", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fail(resp.StatusCode, strings.TrimSpace(string(body)), "", nil)
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return nil, fail(resp.StatusCode, "", "parse", err)
	}
	return doc, nil
}
