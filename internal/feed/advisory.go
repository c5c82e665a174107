package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"etfx/internal/logger"
	"etfx/internal/optimizer"
)

const recommendPrompt = `You tune risk parameters for leveraged ETFs. For each instrument in the
snapshot, reply with a single JSON object keyed by ticker:
{"TICKER": {"params": {"take_profit_pct": ..., "stop_loss_pct": ..., "trailing_stop_pct": ..., "min_confidence": ..., "max_position_pct": ..., "max_hold_days": ...}, "reasoning": "..."}}
Only include parameters you want to change. No prose outside the JSON.`

// AdvisoryClient calls an OpenAI-compatible chat completion endpoint for
// the bulk re-optimization pass.
type AdvisoryClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Retries on 429/5xx; 0 means the default of 2.
	MaxRetries int
}

// Recommend sends one chunk of feature snapshots and returns the raw model
// output. Parsing and validation are the optimizer's job.
func (c *AdvisoryClient) Recommend(ctx context.Context, features []optimizer.Features) (string, error) {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(url, "/chat/completions") {
		url = strings.TrimSuffix(url, "/chat/completions")
	}
	url = url + "/chat/completions"

	snapshot, err := json.Marshal(features)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": recommendPrompt},
			{"role": "user", "content": string(snapshot)},
		},
		"temperature": 0.2,
	}
	b, _ := json.Marshal(body)

	httpc := &http.Client{Timeout: c.Timeout}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			break
		}
		payload, rerr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if rerr != nil {
			lastErr = rerr
			break
		}
		if resp.StatusCode/100 == 2 {
			content := gjson.GetBytes(payload, "choices.0.message.content")
			if !content.Exists() {
				return "", fmt.Errorf("advisory response carries no content")
			}
			return content.String(), nil
		}
		lastErr = fmt.Errorf("advisory call status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
			logger.Warnf("feed: advisory attempt %d/%d failed (%v), retrying", attempt+1, maxRetries+1, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
			continue
		}
		break
	}
	return "", lastErr
}
