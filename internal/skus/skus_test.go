package skus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/vm-pricedb/internal/fetcher/colly"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

var testCreds = pricedb.Credentials{Token: "tok", SubscriptionID: "sub-1"}

type stubGetter struct {
	mu       sync.Mutex
	bodies   map[string]string
	err      error
	requests []pricedb.Request
}

func (s *stubGetter) Get(_ context.Context, req pricedb.Request) (pricedb.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return pricedb.Response{}, s.err
	}
	body, ok := s.bodies[req.URL]
	if !ok {
		return pricedb.Response{}, &pricedb.StatusError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	return pricedb.Response{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

const mixedListing = `{"value":[
  {"name":"Standard_D2s_v5","resourceType":"virtualMachines","restrictions":[],
   "capabilities":[{"name":"vCPUs","value":"2"},{"name":"MemoryGB","value":"8"}]},
  {"name":"Standard_E4as_v5","resourceType":"virtualMachines",
   "restrictions":[{"type":"Location","reasonCode":"NotAvailableForSubscription"}],
   "capabilities":[{"name":"vCPUs","value":"4"},{"name":"MemoryGB","value":"32"}]},
  {"name":"Standard_B1ls","resourceType":"virtualMachines",
   "restrictions":[{"type":"Zone","reasonCode":"NotAvailableForSubscription"}],
   "capabilities":[{"name":"vCPUs","value":"1"},{"name":"MemoryGB","value":"0.5"}]},
  {"name":"Premium_LRS","resourceType":"disks",
   "capabilities":[{"name":"vCPUs","value":"2"},{"name":"MemoryGB","value":"8"}]},
  {"name":"Standard_NoRam","resourceType":"virtualMachines",
   "capabilities":[{"name":"vCPUs","value":"2"}]},
  {"name":"Standard_Bad","resourceType":"virtualMachines",
   "capabilities":[{"name":"vCPUs","value":"two"},{"name":"MemoryGB","value":"8"}]},
  {"name":"Standard_Zero","resourceType":"virtualMachines",
   "capabilities":[{"name":"vCPUs","value":"0"},{"name":"MemoryGB","value":"8"}]},
  {"name":"Standard_D2s_v5","resourceType":"virtualMachines",
   "capabilities":[{"name":"vCPUs","value":"2"},{"name":"MemoryGB","value":"16"}]}
]}`

func TestCapabilitiesFiltersListing(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{Endpoint: "https://mgmt.test"}, nil)
	start := f.URL("eastus", testCreds.SubscriptionID)
	g := &stubGetter{bodies: map[string]string{start: mixedListing}}
	f.getter = g

	res := f.Capabilities(context.Background(), "eastus", testCreds)

	require.Equal(t, pricedb.FetchOK, res.Status)
	require.NoError(t, res.Err)
	require.Len(t, res.Capabilities, 2)
	// Later duplicates replace earlier ones.
	require.Equal(t, pricedb.Capability{SKU: "Standard_D2s_v5", VCPU: 2, RAMGB: 16}, res.Capabilities["Standard_D2s_v5"])
	require.Equal(t, pricedb.Capability{SKU: "Standard_B1ls", VCPU: 1, RAMGB: 0.5}, res.Capabilities["Standard_B1ls"])
	require.NotContains(t, res.Capabilities, "Standard_E4as_v5")

	require.Len(t, g.requests, 1)
	require.Equal(t, "Bearer tok", g.requests[0].Headers.Get("Authorization"))
}

func TestURLCarriesLocationFilter(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{Endpoint: "https://mgmt.test/"}, nil)
	raw := f.URL("westeurope", "sub-1")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/subscriptions/sub-1/providers/Microsoft.Compute/skus", u.Path)
	require.Equal(t, "2021-07-01", u.Query().Get("api-version"))
	require.Equal(t, "location eq 'westeurope'", u.Query().Get("$filter"))
	require.NotContains(t, raw, "+")

	u, err = url.Parse(f.URL("east'us", "sub-1"))
	require.NoError(t, err)
	require.Equal(t, "location eq 'east''us'", u.Query().Get("$filter"))
}

func TestCapabilitiesEmptyListing(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{}, nil)
	g := &stubGetter{bodies: map[string]string{f.URL("nowhere", "sub-1"): `{"value":[]}`}}
	f.getter = g

	res := f.Capabilities(context.Background(), "nowhere", testCreds)

	require.Equal(t, pricedb.FetchEmpty, res.Status)
	require.NoError(t, res.Err)
	require.Empty(t, res.Capabilities)
}

func TestCapabilitiesFailures(t *testing.T) {
	t.Parallel()

	t.Run("unauthorized", func(t *testing.T) {
		t.Parallel()
		g := &stubGetter{err: &pricedb.StatusError{URL: "x", StatusCode: http.StatusUnauthorized}}
		res := New(g, Config{}, nil).Capabilities(context.Background(), "eastus", testCreds)
		require.Equal(t, pricedb.FetchFailed, res.Status)
		require.ErrorIs(t, res.Err, pricedb.ErrUnauthorized)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		f := New(nil, Config{}, nil)
		f.getter = &stubGetter{bodies: map[string]string{f.URL("eastus", "sub-1"): `not json`}}
		res := f.Capabilities(context.Background(), "eastus", testCreds)
		require.Equal(t, pricedb.FetchFailed, res.Status)
		require.Error(t, res.Err)
		require.Empty(t, res.Capabilities)
	})
}

func TestCapabilitiesFollowsNextLink(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{}, nil)
	start := f.URL("eastus", "sub-1")
	f.getter = &stubGetter{bodies: map[string]string{
		start: `{"value":[{"name":"A","resourceType":"virtualMachines",
			"capabilities":[{"name":"vCPUs","value":"2"},{"name":"MemoryGB","value":"4"}]}],
			"nextLink":"https://mgmt.test/page2"}`,
		"https://mgmt.test/page2": `{"value":[{"name":"B","resourceType":"virtualMachines",
			"capabilities":[{"name":"vCPUs","value":"4"},{"name":"MemoryGB","value":"8"}]}]}`,
	}}

	res := f.Capabilities(context.Background(), "eastus", testCreds)

	require.Equal(t, pricedb.FetchOK, res.Status)
	require.Len(t, res.Capabilities, 2)
}

func TestCapabilitiesAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "location eq 'eastus'", r.URL.Query().Get("$filter"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(mixedListing))
	}))
	t.Cleanup(srv.Close)

	getter := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	f := New(getter, Config{Endpoint: srv.URL}, nil)

	res := f.Capabilities(context.Background(), "eastus", testCreds)
	require.Equal(t, pricedb.FetchOK, res.Status)
	require.Len(t, res.Capabilities, 2)

	res = f.Capabilities(context.Background(), "eastus", pricedb.Credentials{Token: "stale", SubscriptionID: "sub-1"})
	require.Equal(t, pricedb.FetchFailed, res.Status)
	require.ErrorIs(t, res.Err, pricedb.ErrUnauthorized)
}
