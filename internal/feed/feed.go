// Package feed reads cycle inputs (decisions, signals, prices, VIX,
// candles) from the companion data service over HTTP. Responses are treated
// as untrusted and parsed tolerantly.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"etfx/internal/advisor"
	"etfx/internal/logger"
	"etfx/internal/optimizer"
	"etfx/internal/signal"
)

// Client fetches engine inputs from the data service.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (string, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return string(body), nil
}

// Decisions fetches the current advisory decisions. Malformed entries are
// skipped by the parser, not fatal.
func (c *Client) Decisions(ctx context.Context) ([]advisor.Decision, error) {
	raw, err := c.get(ctx, "/decisions", nil)
	if err != nil {
		return nil, err
	}
	return advisor.ParseDecisions(raw)
}

// Signals fetches the aggregated indicator signals.
func (c *Client) Signals(ctx context.Context) ([]signal.Signal, error) {
	raw, err := c.get(ctx, "/signals", nil)
	if err != nil {
		return nil, err
	}
	var out []signal.Signal
	gjson.Parse(raw).ForEach(func(_, item gjson.Result) bool {
		s := signal.Signal{
			Ticker:     item.Get("ticker").String(),
			Score:      item.Get("score").Float(),
			Direction:  signal.Normalize(item.Get("direction").String()),
			Confidence: item.Get("confidence").Float(),
		}
		if s.Ticker == "" {
			logger.Warnf("feed: signal entry without ticker, skipped")
			return true
		}
		out = append(out, s)
		return true
	})
	return out, nil
}

// Prices fetches last prices for the given tickers. Missing or non-positive
// quotes are omitted from the result.
func (c *Client) Prices(ctx context.Context, tickers []string) (map[string]float64, error) {
	q := url.Values{"tickers": {strings.Join(tickers, ",")}}
	raw, err := c.get(ctx, "/prices", q)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(tickers))
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		if p := value.Float(); p > 0 {
			out[strings.ToUpper(key.String())] = p
		}
		return true
	})
	return out, nil
}

// VIX fetches the current volatility index reading.
func (c *Client) VIX(ctx context.Context) (float64, error) {
	raw, err := c.get(ctx, "/vix", nil)
	if err != nil {
		return 0, err
	}
	value := gjson.Get(raw, "value")
	if !value.Exists() {
		return 0, fmt.Errorf("vix response carries no value field")
	}
	return value.Float(), nil
}

// History fetches daily candles for one instrument, oldest first.
func (c *Client) History(ctx context.Context, ticker string) ([]optimizer.Candle, error) {
	q := url.Values{"ticker": {ticker}}
	raw, err := c.get(ctx, "/candles", q)
	if err != nil {
		return nil, err
	}
	var out []optimizer.Candle
	gjson.Parse(raw).ForEach(func(_, item gjson.Result) bool {
		out = append(out, optimizer.Candle{
			High:   item.Get("high").Float(),
			Low:    item.Get("low").Float(),
			Close:  item.Get("close").Float(),
			Volume: item.Get("volume").Float(),
		})
		return true
	})
	return out, nil
}
