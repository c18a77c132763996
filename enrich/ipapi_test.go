package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*IPAPIClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewIPAPIClient(Options{BaseURL: srv.URL, Timeout: time.Second, RatePerMinute: 600}), &calls
}

func TestLookup_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/8.8.8.8", r.URL.Path)
		require.True(t, strings.Contains(r.URL.RawQuery, "countryCode"))
		_, _ = w.Write([]byte(`{"status":"success","city":"Curitiba","regionName":"Parana","countryCode":"BR","isp":"Vivo","org":"Telefonica Brasil"}`))
	})

	res := c.Lookup(context.Background(), "8.8.8.8")
	require.Equal(t, "Curitiba/Parana (BR)", res.Location)
	require.Equal(t, "Vivo (Telefonica Brasil)", res.Network)
}

func TestLookup_SuccessWithoutPlaceIsUnknown(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","city":"","regionName":"","countryCode":"","isp":"Starlink"}`))
	})

	res := c.Lookup(context.Background(), "8.8.8.8")
	require.Equal(t, UnknownLocation, res.Location)
	require.Equal(t, "Starlink", res.Network)
}

func TestFormatLocation(t *testing.T) {
	require.Equal(t, UnknownLocation, formatLocation(&ipAPIResponse{}))
	require.Equal(t, "/Parana (BR)", formatLocation(&ipAPIResponse{RegionName: "Parana", CountryCode: "BR"}))
}

func TestLookup_FailStatusDegrades(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	})
	require.Equal(t, Unknown(), c.Lookup(context.Background(), "8.8.4.4"))
}

func TestLookup_MalformedBodyDegrades(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	require.Equal(t, Unknown(), c.Lookup(context.Background(), "1.1.1.1"))
}

func TestLookup_TimeoutDegrades(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c.timeout = 50 * time.Millisecond

	start := time.Now()
	require.Equal(t, Unknown(), c.Lookup(context.Background(), "1.0.0.1"))
	require.Less(t, time.Since(start), time.Second)
}

func TestLookup_PrivateAddressSkipsUpstream(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("private addresses must not be looked up")
	})
	for _, ip := range []string{"192.168.0.101", "10.1.2.3", "127.0.0.1", "::1", "garbage", ""} {
		require.Equal(t, Unknown(), c.Lookup(context.Background(), ip), ip)
	}
	require.Zero(t, calls.Load())
}

func TestLookup_RateLimited(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","city":"A","regionName":"B","countryCode":"C","isp":"D"}`))
	})
	c.limiter.SetBurst(1)
	c.limiter.SetLimit(0)

	require.Equal(t, "A/B (C)", c.Lookup(context.Background(), "8.8.8.8").Location)
	require.Equal(t, Unknown(), c.Lookup(context.Background(), "8.8.8.8"))
	require.EqualValues(t, 1, calls.Load())
}

func TestFormatNetwork(t *testing.T) {
	tests := []struct {
		isp, org, want string
	}{
		{"Vivo", "Telefonica", "Vivo (Telefonica)"},
		{"Claro", "Claro", "Claro"},
		{"Claro", "", "Claro"},
		{"", "Google LLC", "Google LLC"},
		{"", "", UnknownNetwork},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatNetwork(tt.isp, tt.org))
	}
}

func TestIsPublic(t *testing.T) {
	require.True(t, IsPublic(netip.MustParseAddr("200.160.2.3")))
	require.True(t, IsPublic(netip.MustParseAddr("2001:4860:4860::8888")))
	require.False(t, IsPublic(netip.MustParseAddr("172.16.5.4")))
	require.False(t, IsPublic(netip.MustParseAddr("169.254.1.1")))
	require.False(t, IsPublic(netip.MustParseAddr("0.0.0.0")))
}
