package retail

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

type stubGetter struct {
	mu       sync.Mutex
	bodies   map[string]string
	errs     map[string]error
	requests []string
}

func (s *stubGetter) Get(_ context.Context, req pricedb.Request) (pricedb.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req.URL)
	if err, ok := s.errs[req.URL]; ok {
		return pricedb.Response{}, err
	}
	return pricedb.Response{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(s.bodies[req.URL])}, nil
}

func TestURLEncodesFilter(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{CurrencyCode: "EUR"}, nil)
	raw := f.URL("eastus")

	require.NotContains(t, raw, "+")
	require.NotContains(t, raw, " ")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "prices.azure.com", u.Host)
	require.Equal(t, "EUR", u.Query().Get("currencyCode"))
	require.Equal(t,
		"serviceName eq 'Virtual Machines' and armRegionName eq 'eastus' and priceType eq 'Consumption'",
		u.Query().Get("$filter"))
}

func TestFilterEscapesQuotes(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{}, nil)

	require.Equal(t,
		"serviceName eq 'Virtual Machines' and armRegionName eq 'east''us' and priceType eq 'Consumption'",
		f.Filter("east'us"))
	u, err := url.Parse(f.URL("east'us"))
	require.NoError(t, err)
	require.Contains(t, u.Query().Get("$filter"), "armRegionName eq 'east''us'")
}

func TestPricesFollowsPages(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{Endpoint: "https://prices.test/api"}, nil)
	start := f.URL("eastus")
	g := &stubGetter{bodies: map[string]string{
		start: `{"Items":[{"armSkuName":"Standard_D2s_v5","unitPrice":0.096,"meterName":"D2s v5"},
			{"armSkuName":"Standard_D2s_v5","unitPrice":0.19,"meterName":"D2s v5","productName":"Windows"}],
			"NextPageLink":"https://prices.test/api?page=2"}`,
		"https://prices.test/api?page=2": `{"Items":[{"armSkuName":"Standard_B1ls","unitPrice":0},
			{"armSkuName":"Standard_B2s"}],"NextPageLink":null}`,
	}}
	f.getter = g

	res := f.Prices(context.Background(), "eastus")

	require.NoError(t, res.Err)
	require.Equal(t, 2, res.Pages)
	require.False(t, res.Truncated)
	require.Len(t, res.Items, 4)
	require.Equal(t, "Standard_D2s_v5", res.Items[0].SKU)
	require.InDelta(t, 0.19, *res.Items[1].UnitPrice, 1e-9)
	require.NotNil(t, res.Items[2].UnitPrice)
	require.Zero(t, *res.Items[2].UnitPrice)
	require.Nil(t, res.Items[3].UnitPrice)
}

func TestPricesTruncatedOnSecondPage(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{Endpoint: "https://prices.test/api"}, nil)
	start := f.URL("eastus")
	f.getter = &stubGetter{
		bodies: map[string]string{
			start: `{"Items":[{"armSkuName":"A","unitPrice":1}],"NextPageLink":"https://prices.test/api?page=2"}`,
		},
		errs: map[string]error{"https://prices.test/api?page=2": errors.New("timeout")},
	}

	res := f.Prices(context.Background(), "eastus")

	require.Error(t, res.Err)
	require.True(t, res.Truncated)
	require.Len(t, res.Items, 1)
}

func TestPricesExcludeMeters(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{Endpoint: "https://prices.test/api", ExcludeMeters: []string{"Spot", "Low Priority"}}, nil)
	f.getter = &stubGetter{bodies: map[string]string{
		f.URL("eastus"): `{"Items":[
			{"armSkuName":"A","unitPrice":1,"meterName":"D2 v3"},
			{"armSkuName":"A","unitPrice":0.2,"meterName":"D2 v3 Spot"},
			{"armSkuName":"A","unitPrice":0.3,"skuName":"D2 v3 Low Priority"}]}`,
	}}

	res := f.Prices(context.Background(), "eastus")

	require.Len(t, res.Items, 1)
	require.Equal(t, "D2 v3", res.Items[0].MeterName)
}
