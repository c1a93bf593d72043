package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

func newCatalogServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/products/SKU-100":
			_ = json.NewEncoder(w).Encode(model.Product{ID: "SKU-100", Name: "Steel bolts M8", Category: "fasteners", Unit: "box"})
		case "/products/SKU-500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookup_ResolvesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	c := New(Config{BaseURL: srv.URL + "/"}, srv.Client(), zap.NewNop())

	p, err := c.Lookup(context.Background(), "SKU-100")
	require.NoError(t, err)
	assert.Equal(t, "Steel bolts M8", p.Name)
	assert.Equal(t, "fasteners", p.Category)

	_, err = c.Lookup(context.Background(), "SKU-100")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load(), "second lookup is served from cache")
}

func TestLookup_UnknownProduct(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	c := New(Config{BaseURL: srv.URL, RetryMax: 2}, srv.Client(), zap.NewNop())

	_, err := c.Lookup(context.Background(), "SKU-404")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.EqualValues(t, 1, hits.Load(), "404 is not retried")
}

func TestLookup_ServerErrorRetriedThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	c := New(Config{BaseURL: srv.URL, RetryMax: 1}, srv.Client(), zap.NewNop())

	_, err := c.Lookup(context.Background(), "SKU-500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup product SKU-500")
	assert.EqualValues(t, 2, hits.Load())

	_, err = c.Lookup(context.Background(), "SKU-500")
	require.Error(t, err, "failures are not cached")
}

func TestLookup_EscapesReference(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(model.Product{Name: "Valve"})
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL}, srv.Client(), zap.NewNop())

	p, err := c.Lookup(context.Background(), "a/b c")
	require.NoError(t, err)
	assert.Equal(t, "/products/a%2Fb%20c", path.Load())
	assert.Equal(t, "a/b c", p.ID, "missing id falls back to the reference")
}
