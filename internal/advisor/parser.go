package advisor

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"etfx/internal/logger"
)

// ExtractJSONArray pulls the first balanced JSON array out of a free-form
// advisory response. Advisory sources wrap their decisions in prose more
// often than not.
func ExtractJSONArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}

// ParseDecisions extracts and sanitizes the decision array from a raw
// advisory payload. Individual malformed entries are skipped with a log
// line; only a payload with no usable array at all returns an error.
func ParseDecisions(raw string) ([]Decision, error) {
	arr, ok := ExtractJSONArray(raw)
	if !ok {
		return nil, fmt.Errorf("advisory payload contains no JSON array")
	}
	if !gjson.Valid(arr) {
		return nil, fmt.Errorf("advisory payload array is not valid JSON")
	}
	parsed := gjson.Parse(arr)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("advisory payload root is not an array")
	}
	var out []Decision
	idx := 0
	parsed.ForEach(func(_, node gjson.Result) bool {
		idx++
		if !node.IsObject() {
			logger.Warnf("advisor: decision #%d is not an object, skipped", idx)
			return true
		}
		ticker := strings.TrimSpace(node.Get("ticker").String())
		if ticker == "" {
			logger.Warnf("advisor: decision #%d has no ticker, skipped", idx)
			return true
		}
		d := Decision{
			Ticker:          ticker,
			Action:          node.Get("action").String(),
			Confidence:      node.Get("confidence").Float(),
			Direction:       node.Get("direction").String(),
			Reason:          node.Get("reason").String(),
			SuggestedWeight: node.Get("suggested_weight").Float(),
			TakeProfitPct:   node.Get("take_profit_pct").Float(),
			StopLossPct:     node.Get("stop_loss_pct").Float(),
			TimeHorizon:     node.Get("time_horizon").String(),
		}
		out = append(out, Sanitize(d))
		return true
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("advisory payload contained no usable decisions")
	}
	return out, nil
}
