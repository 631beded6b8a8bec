// Package market polls spot prices for the supported assets and quotes the
// checkout amount in the selected asset.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/apd/v3"
	"golang.org/x/time/rate"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// PriceSink receives fetched prices.
type PriceSink interface {
	SetPrice(a contracts.Asset, amount string) bool
}

// Config configures a Feed.
type Config struct {
	BaseURL    string
	Symbols    []contracts.Asset
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	MaxRetries uint64
}

// Feed fetches {base}/v2/prices/{SYMBOL}-USD/spot for each symbol.
type Feed struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	sink    PriceSink
	logger  *slog.Logger
}

type spotResponse struct {
	Data struct {
		Amount string `json:"amount"`
	} `json:"data"`
}

// NewFeed creates a feed writing into sink. A nil client uses a client with cfg.Timeout.
func NewFeed(cfg Config, sink PriceSink, client *http.Client) *Feed {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = contracts.Assets()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Feed{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), len(cfg.Symbols)),
		sink:    sink,
		logger:  slog.Default().With("component", "market"),
	}
}

// WithLogger overrides the feed logger.
func (f *Feed) WithLogger(l *slog.Logger) *Feed {
	f.logger = l
	return f
}

// Fetch returns the spot price of a in USD as the source formats it.
// Transient failures are retried with exponential backoff.
func (f *Feed) Fetch(ctx context.Context, a contracts.Asset) (string, error) {
	url := fmt.Sprintf("%s/v2/prices/%s-USD/spot", strings.TrimRight(f.cfg.BaseURL, "/"), a)

	op := func() (string, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
		return f.get(ctx, url)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 3 * f.cfg.Timeout

	retries := f.cfg.MaxRetries
	if retries == 0 {
		retries = 2
	}
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

func (f *Feed) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("price source: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return "", backoff.Permanent(fmt.Errorf("price source: %s", resp.Status))
	}

	var body spotResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return "", backoff.Permanent(fmt.Errorf("price source: decode: %w", err))
	}
	d, _, err := apd.NewFromString(body.Data.Amount)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("price source: amount %q: %w", body.Data.Amount, err))
	}
	if d.Form != apd.Finite {
		return "", backoff.Permanent(fmt.Errorf("price source: amount %q is not finite", body.Data.Amount))
	}
	return body.Data.Amount, nil
}

// Refresh fetches every symbol once and writes successes to the sink. Failed
// symbols keep their previous value. It returns the number of prices updated.
func (f *Feed) Refresh(ctx context.Context) int {
	updated := 0
	for _, a := range f.cfg.Symbols {
		amount, err := f.Fetch(ctx, a)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				f.logger.DebugContext(ctx, "price fetch failed", "asset", a, "error", err)
			}
			continue
		}
		if f.sink != nil {
			f.sink.SetPrice(a, amount)
		}
		updated++
	}
	return updated
}

// Run refreshes immediately and then every interval until ctx is done. A
// non-positive interval refreshes once.
func (f *Feed) Run(ctx context.Context, interval time.Duration) {
	f.Refresh(ctx)
	f.Poll(ctx, interval)
}

// Poll refreshes every interval until ctx is done, without an initial
// refresh. A non-positive interval returns immediately.
func (f *Feed) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.Refresh(ctx)
		}
	}
}
