// Package enrich resolves a client address to a location and network label.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"merlodigital/site/breaker"
	"merlodigital/site/logging"
	"merlodigital/site/metrics"
)

// Placeholders reported when a lookup cannot be made or fails.
const (
	UnknownLocation = "Local Desconhecido"
	UnknownNetwork  = "N/A"
)

const defaultBaseURL = "http://ip-api.com/json"

var (
	errRateLimited = errors.New("ip-api.com rate limit reached")
	errNotPublic   = errors.New("address is not a public ip")
)

// Result is the outcome of one lookup.
type Result struct {
	Location string
	Network  string
}

// Unknown is the degraded result.
func Unknown() Result {
	return Result{Location: UnknownLocation, Network: UnknownNetwork}
}

// Options configures an IPAPIClient.
type Options struct {
	BaseURL string
	// Timeout bounds each lookup. Default 2s.
	Timeout time.Duration
	// RatePerMinute caps outbound lookups. ip-api.com's free tier allows 45.
	RatePerMinute int
	HTTPClient    *http.Client
}

// IPAPIClient looks addresses up on ip-api.com.
type IPAPIClient struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*ipAPIResponse]
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	City        string `json:"city"`
	RegionName  string `json:"regionName"`
	CountryCode string `json:"countryCode"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	Zip         string `json:"zip"`
}

// NewIPAPIClient returns a client with the given options.
func NewIPAPIClient(opts Options) *IPAPIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 45
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &IPAPIClient{
		client:  opts.HTTPClient,
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute),
		cb:      breaker.New[*ipAPIResponse]("ip-api", breaker.Settings{}),
	}
}

// Lookup never fails: any problem yields Unknown() and is logged.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) Result {
	res, err := c.Resolve(ctx, ip)
	switch {
	case err == nil:
		metrics.EnrichLookups.WithLabelValues("success").Inc()
		return res
	case errors.Is(err, errNotPublic):
		metrics.EnrichLookups.WithLabelValues("skipped").Inc()
	case errors.Is(err, errRateLimited), errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.EnrichLookups.WithLabelValues("rejected").Inc()
		logging.Debug().Err(err).Str("ip", ip).Msg("geoip lookup skipped")
	default:
		metrics.EnrichLookups.WithLabelValues("failed").Inc()
		logging.Warn().Err(err).Str("ip", ip).Msg("geoip lookup failed")
	}
	return Unknown()
}

// Resolve performs the lookup and reports why it failed.
func (c *IPAPIClient) Resolve(ctx context.Context, ip string) (Result, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !IsPublic(addr) {
		return Result{}, fmt.Errorf("%s: %w", ip, errNotPublic)
	}
	if !c.limiter.Allow() {
		return Result{}, errRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.cb.Execute(func() (*ipAPIResponse, error) {
		return c.query(ctx, addr.String())
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Location: formatLocation(resp), Network: formatNetwork(resp.ISP, resp.Org)}, nil
}

func (c *IPAPIClient) query(ctx context.Context, ip string) (*ipAPIResponse, error) {
	url := fmt.Sprintf("%s/%s?fields=status,message,city,regionName,countryCode,isp,org,zip", c.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query ip-api.com: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api.com returned status %d", resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ip-api.com response: %w", err)
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("ip-api.com lookup failed: %s", result.Message)
	}
	return &result, nil
}

func formatLocation(r *ipAPIResponse) string {
	if r.City == "" && r.RegionName == "" && r.CountryCode == "" {
		return UnknownLocation
	}
	return fmt.Sprintf("%s/%s (%s)", r.City, r.RegionName, r.CountryCode)
}

func formatNetwork(isp, org string) string {
	switch {
	case isp != "" && org != "" && isp != org:
		return fmt.Sprintf("%s (%s)", isp, org)
	case isp != "":
		return isp
	case org != "":
		return org
	default:
		return UnknownNetwork
	}
}

// IsPublic reports whether addr is routable on the internet.
func IsPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsUnspecified() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsMulticast()
}
