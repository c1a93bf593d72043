package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/httpclient"
	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/internal/rate"
	"github.com/Checker-Finance/negotiation/pkg/cache"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

const rateKey = "catalog"

// Config controls the product catalog client.
type Config struct {
	BaseURL   string
	CacheTTL  time.Duration
	Timeout   time.Duration
	RetryMax  int
	RateLimit rate.Config
}

// HTTPCatalog looks products up in the catalog service over HTTP and keeps
// resolved products in a TTL cache.
type HTTPCatalog struct {
	baseURL string
	exec    *httpclient.Executor
	cache   *cache.Cache[model.Product]
	logger  *zap.Logger
}

// errProductNotFound marks a 404 from the catalog.
var errProductNotFound = errors.New("product not found")

// New builds a catalog client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *HTTPCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit = rate.Config{RequestsPerSecond: 20, Burst: 20}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	exec := httpclient.New(logger, rate.NewManager(cfg.RateLimit), httpClient, cfg.RetryMax, "catalog",
		func(status int, body []byte) error {
			if status == http.StatusNotFound {
				return errProductNotFound
			}
			return fmt.Errorf("catalog returned %d: %s", status, strings.TrimSpace(string(body)))
		})

	return &HTTPCatalog{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		exec:    exec,
		cache:   cache.New[model.Product](cfg.CacheTTL),
		logger:  logger,
	}
}

// Lookup returns the product for ref. Unknown products yield a NotFoundError.
func (c *HTTPCatalog) Lookup(ctx context.Context, ref string) (*model.Product, error) {
	if p, ok := c.cache.Get(ref); ok {
		metrics.IncCache("catalog", "hit")
		return &p, nil
	}
	metrics.IncCache("catalog", "miss")

	endpoint := c.baseURL + "/products/" + url.PathEscape(ref)
	var p model.Product
	err := c.exec.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, rateKey, &p)

	switch {
	case errors.Is(err, errProductNotFound):
		metrics.IncCatalog("not_found")
		return nil, &model.NotFoundError{Entity: "product", ID: ref}
	case err != nil:
		metrics.IncCatalog("error")
		return nil, fmt.Errorf("lookup product %s: %w", ref, err)
	}

	if p.ID == "" {
		p.ID = ref
	}
	metrics.IncCatalog("ok")
	c.cache.Put(ref, p)
	c.logger.Debug("catalog.product_resolved",
		zap.String("product", ref),
		zap.String("category", p.Category))
	return &p, nil
}
