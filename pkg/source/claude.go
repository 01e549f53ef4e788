package source

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/toktrack/pkg/models"
)

// claudeDecoder reads Claude Code project transcripts. Only assistant
// lines carrying message.usage produce entries.
type claudeDecoder struct {
	source string
}

var claudePaths = []string{
	"message.usage", "message.model", "timestamp", "costUSD",
	"message.id", "requestId", "isApiErrorMessage",
}

func (d *claudeDecoder) Decode(rec []byte) ([]models.UsageEntry, error) {
	r := gjson.GetManyBytes(rec, claudePaths...)
	usage, model := r[0], r[1].String()
	if !usage.IsObject() || r[6].Bool() || model == "<synthetic>" {
		return nil, nil
	}

	n, err := tokenCounts(usage,
		"input_tokens", "output_tokens", "cache_creation_input_tokens", "cache_read_input_tokens")
	if err != nil {
		return nil, err
	}
	tokens := models.TokenUsage{Input: n[0], Output: n[1], CacheCreation: n[2], CacheRead: n[3]}
	if tokens.IsZero() {
		return nil, nil
	}
	ts, err := timestamp(r[2])
	if err != nil {
		return nil, err
	}

	e := models.NewUsageEntry(d.source, ts, model, tokens)
	if cost := r[3]; cost.Type == gjson.Number && cost.Num >= 0 {
		e = e.WithCost(decimal.NewFromFloat(cost.Num))
	}
	if msgID, reqID := r[4].String(), r[5].String(); msgID != "" && reqID != "" {
		e = e.WithDedupKey(msgID + ":" + reqID)
	}
	return []models.UsageEntry{e}, nil
}
