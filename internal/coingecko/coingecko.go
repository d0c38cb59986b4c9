// Package coingecko implements a pricecache.Feed backed by the CoinGecko Pro simple
// price API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/secrets"
)

var ErrInvalidConfig = errors.New("coingecko: invalid config")

const defaultBaseURL = "https://pro-api.coingecko.com/api/v3"

type ClientOption func(*Feed) error

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(f *Feed) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		f.hc = hc
		return nil
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(f *Feed) error {
		u, err := url.Parse(baseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: invalid base url %q", ErrInvalidConfig, baseURL)
		}
		f.baseURL = u
		return nil
	}
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(f *Feed) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		f.maxRespBytes = n
		return nil
	}
}

// Feed queries CoinGecko's /simple/token_price/{platform} endpoint, one platform
// (chain) at a time, keyed by contract address.
type Feed struct {
	platform string // CoinGecko platform id, e.g. "ethereum"
	apiKeys  secrets.Provider

	baseURL      *url.URL
	hc           *http.Client
	maxRespBytes int64
}

// New builds a Feed for platform, resolving the API key lazily from apiKeys under
// the COINGECKO_PRO_API_KEY key on every request (so a rotated secret takes effect
// without a restart).
func New(platform string, apiKeys secrets.Provider, opts ...ClientOption) (*Feed, error) {
	if strings.TrimSpace(platform) == "" {
		return nil, fmt.Errorf("%w: missing platform id", ErrInvalidConfig)
	}
	if apiKeys == nil {
		return nil, fmt.Errorf("%w: nil secrets provider", ErrInvalidConfig)
	}
	base, err := url.Parse(defaultBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse default base url: %v", ErrInvalidConfig, err)
	}
	f := &Feed{
		platform:     platform,
		apiKeys:      apiKeys,
		baseURL:      base,
		hc:           &http.Client{Timeout: 15 * time.Second},
		maxRespBytes: 1 << 20,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Feed) Name() string { return "coingecko:" + f.platform }

// GetPricesByAddress implements pricecache.Feed. Addresses CoinGecko has no listing
// for are simply absent from the result; that is not an error.
func (f *Feed) GetPricesByAddress(ctx context.Context, addrs []string) (map[string]*big.Int, error) {
	if f == nil || f.baseURL == nil || f.hc == nil {
		return nil, fmt.Errorf("%w: nil feed", ErrInvalidConfig)
	}
	if len(addrs) == 0 {
		return map[string]*big.Int{}, nil
	}

	apiKey, err := f.apiKeys.Get(ctx, "COINGECKO_PRO_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("coingecko: resolve api key: %w", err)
	}

	u := *f.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/simple/token_price/" + f.platform
	q := u.Query()
	q.Set("contract_addresses", strings.Join(addrs, ","))
	q.Set("vs_currencies", "usd")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("coingecko: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", apiKey)
	}

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, f.maxRespBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw map[string]map[string]json.Number
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("coingecko: unmarshal response: %w", err)
	}

	out := make(map[string]*big.Int, len(raw))
	for addr, fields := range raw {
		usd, ok := fields["usd"]
		if !ok {
			continue
		}
		price, err := parseUsdPrice(string(usd))
		if err != nil {
			continue
		}
		out[strings.ToLower(addr)] = price
	}
	return out, nil
}

// parseUsdPrice converts a decimal USD string (e.g. "1.0003") to an 18-decimal
// fixed-point integer without floating-point rounding.
func parseUsdPrice(s string) (*big.Int, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		return nil, fmt.Errorf("coingecko: negative price %q", s)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("coingecko: bad price %q", s)
	}
	scaled, err := fixedpoint.ToFp(wholeInt, 0)
	if err != nil {
		return nil, err
	}
	if !hasFrac || frac == "" {
		return scaled, nil
	}
	if len(frac) > 18 {
		frac = frac[:18]
	}
	fracInt, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, fmt.Errorf("coingecko: bad fractional price %q", s)
	}
	fracScaled, err := fixedpoint.ToFp(fracInt, len(frac))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(scaled, fracScaled), nil
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("coingecko: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("coingecko: response too large")
	}
	return b, nil
}
