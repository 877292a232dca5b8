package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/catalog"
	"github.com/target/catalog-sync/internal/domain/model"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

var testStore = model.Credentials{Domain: "reseller.myshopify.com", AccessToken: "shpat_test"}

// recordingSleeper captures requested waits without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestClient(t *testing.T, h http.Handler, mutate ...func(*Options)) (*Client, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	opts := Options{
		HTTPClient:     srv.Client(),
		BaseURL:        func(string) string { return srv.URL },
		Sleeper:        sleeper,
		MinCallSpacing: -1,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewClient(opts), sleeper
}

func productsJSON(skus ...string) string {
	parts := make([]string, 0, len(skus))
	for i, sku := range skus {
		parts = append(parts, fmt.Sprintf(
			`{"id":%d,"title":"P %s","status":"active","variants":[{"id":%d,"sku":%q,"price":"10.00"}]}`,
			i+1, sku, 100+i, sku))
	}
	return `{"products":[` + strings.Join(parts, ",") + `]}`
}

func TestListProducts_FollowsLinkHeader(t *testing.T) {
	var requests atomic.Int32
	var srvURL string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "shpat_test", r.Header.Get(AccessTokenHeader))
		assert.Equal(t, "/admin/api/"+DefaultAPIVersion+"/products.json", r.URL.Path)
		assert.Equal(t, "250", r.URL.Query().Get("limit"))

		switch r.URL.Query().Get("page_info") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/x/products.json?limit=250&page_info=p2>; rel="next"`, srvURL))
			_, _ = io.WriteString(w, productsJSON("A", "B"))
		case "p2":
			w.Header().Set("Link", fmt.Sprintf(
				`<%s/products.json?page_info=p1>; rel="previous", <%s/products.json?limit=250&page_info=p3>; rel="next"`,
				srvURL, srvURL))
			_, _ = io.WriteString(w, productsJSON("C"))
		case "p3":
			w.Header().Set("Link", fmt.Sprintf(`<%s/products.json?page_info=p2>; rel="previous"`, srvURL))
			_, _ = io.WriteString(w, productsJSON("D", "E"))
		default:
			t.Errorf("unexpected page_info %q", r.URL.Query().Get("page_info"))
		}
	})
	srv := httptest.NewServer(h)
	defer srv.Close()
	srvURL = srv.URL

	client := NewClient(Options{
		HTTPClient: srv.Client(),
		BaseURL:    func(string) string { return srv.URL },
		Sleeper:    &recordingSleeper{},
	})

	listing, err := client.ListProducts(context.Background(), testStore, core.ListOptions{})
	require.NoError(t, err)
	assert.True(t, listing.Complete)
	assert.Nil(t, listing.Err)
	assert.Equal(t, 3, listing.Pages)
	assert.EqualValues(t, 3, requests.Load())

	skus := make([]string, 0, len(listing.Products))
	for _, p := range listing.Products {
		skus = append(skus, p.PrimarySKU())
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, skus)
}

func TestListProducts_FailSoftAfterFirstPage(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_info") == "" {
			w.Header().Set("Link", `<https://x/products.json?page_info=next>; rel="next"`)
			_, _ = io.WriteString(w, productsJSON("A"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	client, sleeper := newTestClient(t, h)

	listing, err := client.ListProducts(context.Background(), testStore, core.ListOptions{})
	require.NoError(t, err)
	assert.False(t, listing.Complete)
	require.Error(t, listing.Err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(listing.Err))
	assert.Equal(t, 1, listing.Pages)
	require.Len(t, listing.Products, 1)
	assert.Len(t, sleeper.Waits(), 2, "second page retried before giving up")
}

func TestListProducts_FirstPageFailureIsError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errors":"[API] Invalid API key"}`, http.StatusUnauthorized)
	}))

	listing, err := client.ListProducts(context.Background(), testStore, core.ListOptions{})
	require.Error(t, err)
	assert.Nil(t, listing)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestListProducts_MaxPages(t *testing.T) {
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("Link", `<https://x/products.json?page_info=more>; rel="next"`)
		_, _ = io.WriteString(w, productsJSON("A"))
	})
	client, _ := newTestClient(t, h)

	listing, err := client.ListProducts(context.Background(), testStore, core.ListOptions{MaxPages: 2})
	require.NoError(t, err)
	assert.False(t, listing.Complete)
	assert.NoError(t, listing.Err)
	assert.Equal(t, 2, listing.Pages)
	assert.EqualValues(t, 2, requests.Load())
}

func TestRetry_RateLimitHonoursRetryAfter(t *testing.T) {
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"product":{"id":9,"title":"Created","variants":[{"id":1,"sku":"X1","price":"5.00"}]}}`)
	})
	client, sleeper := newTestClient(t, h)

	p, err := client.CreateProduct(context.Background(), testStore, &catalog.RawProduct{Title: "Created"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.ID)
	assert.EqualValues(t, 2, requests.Load())

	waits := sleeper.Waits()
	require.Len(t, waits, 1)
	assert.GreaterOrEqual(t, waits[0], 2*time.Second)
}

func TestRetry_RateLimitRealWait(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for the Retry-After interval")
	}
	var requests atomic.Int32
	var first, second time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			first = time.Now()
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		second = time.Now()
		w.WriteHeader(http.StatusOK)
	})
	client, _ := newTestClient(t, h, func(o *Options) { o.Sleeper = TimerSleeper })

	ok, err := client.DeleteProduct(context.Background(), testStore, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, second.Sub(first), 2*time.Second)
}

func TestRetry_RateLimitExhausted(t *testing.T) {
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client, sleeper := newTestClient(t, h)

	_, err := client.UpdateProduct(context.Background(), testStore, 7, &catalog.RawProduct{Title: "x"})
	require.Error(t, err)

	var rle *RateLimitExceeded
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 3, rle.Attempts)
	assert.EqualValues(t, 3, requests.Load(), "no fourth attempt")
	assert.Equal(t, []time.Duration{DefaultRateLimitDelay, DefaultRateLimitDelay}, sleeper.Waits())
	assert.True(t, IsRetryable(err))
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var env variantEnvelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		if assert.NotNil(t, env.Variant) {
			assert.Equal(t, int64(55), env.Variant.ID)
		}
		_, _ = io.WriteString(w, `{"variant":{"id":55,"sku":"X1","price":"11.00"}}`)
	})
	client, sleeper := newTestClient(t, h)

	v, err := client.UpdateVariant(context.Background(), testStore, 55, &catalog.RawVariant{Price: "11.00"})
	require.NoError(t, err)
	assert.InDelta(t, 11.0, v.Price, 0.001)
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, sleeper.Waits())
}

func TestRetry_ServerErrorExhausted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))

	_, err := client.UpdateProductStatus(context.Background(), testStore, 1, model.ProductStatusDraft)
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
	assert.True(t, ue.Retryable)
	assert.Equal(t, "upstream down", ue.Body)
}

func TestClientError_NoRetry(t *testing.T) {
	var requests atomic.Int32
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		http.Error(w, `{"errors":{"title":["can't be blank"]}}`, http.StatusUnprocessableEntity)
	}))

	_, err := client.CreateProduct(context.Background(), testStore, &catalog.RawProduct{})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.False(t, ue.Retryable)
	assert.Contains(t, ue.Body, "can't be blank")
	assert.EqualValues(t, 1, requests.Load())
	assert.Empty(t, sleeper.Waits())
}

func TestDeleteProduct_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/admin/api/"+DefaultAPIVersion+"/products/42.json", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))

	ok, err := client.DeleteProduct(context.Background(), testStore, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateProductStatus_Body(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"id": float64(3), "status": "archived"}, body["product"])
		_, _ = io.WriteString(w, `{"product":{"id":3,"status":"archived"}}`)
	}))

	p, err := client.UpdateProductStatus(context.Background(), testStore, 3, model.ProductStatusArchived)
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusArchived, p.Status)

	_, err = client.UpdateProductStatus(context.Background(), testStore, 3, "hidden")
	require.Error(t, err)
}

func TestMutatingCallsAreSpacedPerStore(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	client, _ := newTestClient(t, h, func(o *Options) { o.MinCallSpacing = 100 * time.Millisecond })

	for range 3 {
		_, err := client.DeleteProduct(context.Background(), testStore, 1)
		require.NoError(t, err)
	}

	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 90*time.Millisecond)
	}
}

func TestNegativeCallSpacingDisablesLimiter(t *testing.T) {
	client := NewClient(Options{MinCallSpacing: -1})
	assert.Equal(t, rate.Inf, client.limiter(testStore.Domain).Limit())

	client = NewClient(Options{})
	assert.Equal(t, rate.Every(DefaultCallSpacing), client.limiter(testStore.Domain).Limit())
}

func TestCallLimitHeaderEmitsGauge(t *testing.T) {
	rec := &statsd.Recorder{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(CallLimitHeader, "32/40")
		_, _ = io.WriteString(w, `{"products":[]}`)
	}), func(o *Options) { o.Metrics = rec })

	listing, err := client.ListProducts(context.Background(), testStore, core.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, listing.Products)

	used := rec.Named("upstream.call_budget.used")
	require.Len(t, used, 1)
	assert.InDelta(t, 32, used[0].Value, 0)
	assert.Len(t, rec.Named("upstream.request"), 1)
}

func TestCanceledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.DeleteProduct(ctx, testStore, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abc", nextPageInfo(`<https://s/admin/api/v/products.json?limit=250&page_info=abc>; rel="next"`))
	assert.Empty(t, nextPageInfo(`<https://s/products.json?page_info=abc>; rel="previous"`))
	assert.Empty(t, nextPageInfo(""))

	h := http.Header{}
	assert.Equal(t, time.Second, retryAfter(h, time.Second))
	h.Set("Retry-After", "1.5")
	assert.Equal(t, 1500*time.Millisecond, retryAfter(h, time.Second))
	h.Set("Retry-After", "soon")
	assert.Equal(t, time.Second, retryAfter(h, time.Second))

	used, total, ok := parseCallLimit("1/40")
	assert.True(t, ok)
	assert.Equal(t, 1, used)
	assert.Equal(t, 40, total)
	_, _, ok = parseCallLimit("garbage")
	assert.False(t, ok)
}
