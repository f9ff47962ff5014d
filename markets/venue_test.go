package markets

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/limitless-exchange/limitless-go/api"
)

const (
	testExchange = "0x0000000000000000000000000000000000000E01"
	testAdapter  = "0x0000000000000000000000000000000000000A01"
)

// newMarketServer serves GET /markets/{slug} and counts fetches.
func newMarketServer(t *testing.T, negRisk bool) (*Fetcher, *atomic.Int32) {
	t.Helper()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/markets/") {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		slug := strings.TrimPrefix(r.URL.Path, "/markets/")

		adapter := ""
		if negRisk {
			adapter = fmt.Sprintf(`,"adapter":%q`, testAdapter)
		}
		fmt.Fprintf(w, `{"slug":%q,"title":"test market","negRiskRequested":%v,"venue":{"exchange":%q%s}}`,
			slug, negRisk, testExchange, adapter)
	}))
	t.Cleanup(srv.Close)

	transport := api.NewClient(api.WithBaseURL(srv.URL))
	t.Cleanup(transport.Close)

	return NewFetcher(transport), &fetches
}

func TestVenueCache_ResolveCachesRecord(t *testing.T) {
	fetcher, fetches := newMarketServer(t, false)
	cache := NewVenueCache(fetcher, nil)

	ctx := context.Background()

	rec, err := cache.Resolve(ctx, "btc-100k")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.ExchangeAddress != common.HexToAddress(testExchange) {
		t.Fatalf("exchange = %s, want %s", rec.ExchangeAddress.Hex(), testExchange)
	}
	if rec.AdapterAddress != nil {
		t.Fatal("plain market should have no adapter")
	}

	// Second resolve must be served from the cache.
	if _, err := cache.Resolve(ctx, "btc-100k"); err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, want 1", cache.Len())
	}
}

func TestVenueCache_NegRiskAdapter(t *testing.T) {
	fetcher, _ := newMarketServer(t, true)
	cache := NewVenueCache(fetcher, nil)

	rec, err := cache.Resolve(context.Background(), "election-2028")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.AdapterAddress == nil {
		t.Fatal("NegRisk market should carry an adapter address")
	}
	if *rec.AdapterAddress != common.HexToAddress(testAdapter) {
		t.Fatalf("adapter = %s, want %s", rec.AdapterAddress.Hex(), testAdapter)
	}
}

func TestVenueCache_RefreshRefetches(t *testing.T) {
	fetcher, fetches := newMarketServer(t, false)
	cache := NewVenueCache(fetcher, nil)

	ctx := context.Background()
	if _, err := cache.Resolve(ctx, "btc-100k"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := cache.Refresh(ctx, "btc-100k"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("fetches = %d, want 2", n)
	}
}

func TestVenueCache_Clear(t *testing.T) {
	fetcher, fetches := newMarketServer(t, false)
	cache := NewVenueCache(fetcher, nil)

	ctx := context.Background()
	if _, err := cache.Resolve(ctx, "btc-100k"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("Len after Clear = %d", cache.Len())
	}
	if _, err := cache.Resolve(ctx, "btc-100k"); err != nil {
		t.Fatalf("Resolve after Clear: %v", err)
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("fetches = %d, want 2", n)
	}
}

func TestVenueCache_RejectsInvalidAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"slug":"bad","venue":{"exchange":"not-an-address"}}`)
	}))
	t.Cleanup(srv.Close)

	transport := api.NewClient(api.WithBaseURL(srv.URL))
	t.Cleanup(transport.Close)

	cache := NewVenueCache(NewFetcher(transport), nil)
	if _, err := cache.Resolve(context.Background(), "bad"); err == nil {
		t.Fatal("expected error for invalid venue address")
	}
	if cache.Len() != 0 {
		t.Fatal("invalid record must not be cached")
	}
}
