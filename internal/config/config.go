package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"

	"trigear/internal/commerce"
)

type Config struct {
	Commerce  CommerceConfig
	Markets   []Market
	Server    ServerConfig
	Cache     CacheConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

type CommerceConfig struct {
	ClientID     string
	ClientSecret string
	Organization string
	Domain       string
	// AuthURL and APIURL override the URLs derived from Domain/Organization.
	AuthURL     string
	APIURL      string
	HTTPTimeout time.Duration
	HTTPRetries int
	PageSize    int
	// PreferCatalogImages uses the SKU image_url instead of /migrated-assets paths.
	PreferCatalogImages bool
}

// Market is one storefront market: a token scope and the SKU list it sells.
type Market struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Scope  string `json:"-"`
	ListID string `json:"-"`
}

type ServerConfig struct {
	Addr           string
	MetricsEnabled bool
}

type CacheConfig struct {
	Backend     string // "memory" or "blob"
	Container   string
	AccountName string
	AccountKey  string
}

type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"

	SinkAccountName string
	SinkAccountKey  string
	SinkContainer   string
	SinkBlobName    string
	SinkFlushEvery  time.Duration
}

// SinkEnabled reports whether log shipping to an append blob is configured.
func (l LoggingConfig) SinkEnabled() bool {
	return l.SinkAccountName != "" && l.SinkAccountKey != "" && l.SinkContainer != ""
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from the environment, after loading the nearest
// .env file if there is one. It does not validate; call Validate before
// talking to the commerce platform.
func Load() *Config {
	loadDotEnv()

	cfg := &Config{
		Commerce: CommerceConfig{
			ClientID:            env.GetString("COMMERCE_CLIENT_ID", ""),
			ClientSecret:        env.GetString("COMMERCE_CLIENT_SECRET", ""),
			Organization:        env.GetString("COMMERCE_ORGANIZATION", ""),
			Domain:              env.GetString("COMMERCE_DOMAIN", commerce.DefaultDomain),
			AuthURL:             env.GetString("COMMERCE_AUTH_URL", ""),
			APIURL:              env.GetString("COMMERCE_API_URL", ""),
			HTTPTimeout:         env.GetDuration("COMMERCE_HTTP_TIMEOUT_SECONDS", 20, time.Second),
			HTTPRetries:         env.GetInt("COMMERCE_HTTP_RETRIES", 0),
			PageSize:            env.GetInt("COMMERCE_PAGE_SIZE", 25),
			PreferCatalogImages: env.GetBool("COMMERCE_PREFER_CATALOG_IMAGES", false),
		},
		Markets: loadMarkets(env.GetString("STOREFRONT_MARKETS", "")),
		Server: ServerConfig{
			Addr:           env.GetString("SERVER_ADDR", ":8080"),
			MetricsEnabled: env.GetBool("METRICS_ENABLED", true),
		},
		Cache: CacheConfig{
			Backend:     env.GetString("CACHE_BACKEND", "memory"),
			Container:   env.GetString("CACHE_CONTAINER", "storefront"),
			AccountName: env.GetString("AZURE_STORAGE_ACCOUNT_NAME", ""),
			AccountKey:  env.GetString("AZURE_STORAGE_PRIMARY_ACCOUNT_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:           env.GetString("LOG_LEVEL", "info"),
			Format:          env.GetString("LOG_FORMAT", "json"),
			SinkAccountName: env.GetString("LOGSINK_ACCOUNT_NAME", ""),
			SinkAccountKey:  env.GetString("LOGSINK_ACCOUNT_KEY", ""),
			SinkContainer:   env.GetString("LOGSINK_CONTAINER", ""),
			SinkBlobName:    env.GetString("LOGSINK_BLOB_NAME", ""),
			SinkFlushEvery:  env.GetDuration("LOGSINK_FLUSH_SECONDS", 2, time.Second),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: env.GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  env.GetString("OTEL_SERVICE_NAME", "trigear-storefront"),
		},
	}
	return cfg
}

// loadMarkets reads MARKET_<ID>_NAME, MARKET_<ID>_SCOPE and MARKET_<ID>_LIST_ID
// for every id in the comma separated list, keeping the listed order.
func loadMarkets(ids string) []Market {
	var markets []Market
	seen := map[string]bool{}
	for _, id := range strings.Split(ids, ",") {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		prefix := "MARKET_" + envKey(id) + "_"
		markets = append(markets, Market{
			ID:     id,
			Name:   env.GetString(prefix+"NAME", strings.ToUpper(id)),
			Scope:  env.GetString(prefix+"SCOPE", ""),
			ListID: env.GetString(prefix+"LIST_ID", ""),
		})
	}
	return markets
}

func envKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

// Validate reports every missing required setting in one ConfigurationError.
func (c *Config) Validate() error {
	var missing []string
	if c.Commerce.ClientID == "" {
		missing = append(missing, "COMMERCE_CLIENT_ID")
	}
	if c.Commerce.ClientSecret == "" {
		missing = append(missing, "COMMERCE_CLIENT_SECRET")
	}
	if c.Commerce.Organization == "" && c.Commerce.APIURL == "" {
		missing = append(missing, "COMMERCE_ORGANIZATION")
	}
	if len(c.Markets) == 0 {
		missing = append(missing, "STOREFRONT_MARKETS")
	}
	for _, m := range c.Markets {
		prefix := "MARKET_" + envKey(m.ID) + "_"
		if m.Scope == "" {
			missing = append(missing, prefix+"SCOPE")
		}
		if m.ListID == "" {
			missing = append(missing, prefix+"LIST_ID")
		}
	}
	if c.Cache.Backend == "blob" && c.Cache.AccountName == "" {
		missing = append(missing, "AZURE_STORAGE_ACCOUNT_NAME")
	}
	if len(missing) > 0 {
		return &commerce.ConfigurationError{Missing: missing}
	}

	if c.Commerce.PageSize < 1 || c.Commerce.PageSize > commerce.MaxPageSize {
		return &commerce.ConfigurationError{Reason: fmt.Sprintf("COMMERCE_PAGE_SIZE must be between 1 and %d", commerce.MaxPageSize)}
	}
	switch c.Cache.Backend {
	case "memory", "blob":
	default:
		return &commerce.ConfigurationError{Reason: fmt.Sprintf("unknown CACHE_BACKEND %q", c.Cache.Backend)}
	}
	return nil
}

// Credential returns the commerce client credentials.
func (c *Config) Credential() commerce.Credential {
	return commerce.Credential{ClientID: c.Commerce.ClientID, ClientSecret: c.Commerce.ClientSecret}
}

// TokenURL is the OAuth endpoint, honoring COMMERCE_AUTH_URL.
func (c *Config) TokenURL() string {
	if c.Commerce.AuthURL != "" {
		return c.Commerce.AuthURL
	}
	return commerce.AuthURL(c.Commerce.Domain)
}

// CatalogURL is the organization API root, honoring COMMERCE_API_URL.
func (c *Config) CatalogURL() string {
	if c.Commerce.APIURL != "" {
		return c.Commerce.APIURL
	}
	return commerce.APIURL(c.Commerce.Organization, c.Commerce.Domain)
}

// Market looks up a market by id. An empty id selects the default (first) market.
func (c *Config) Market(id string) (Market, bool) {
	if len(c.Markets) == 0 {
		return Market{}, false
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return c.Markets[0], true
	}
	for _, m := range c.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return Market{}, false
}

// loadDotEnv loads the first .env found walking up from the working directory.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
