package source

import (
	"github.com/tidwall/gjson"

	"github.com/pario-ai/toktrack/pkg/models"
)

// kimiUnknownModel labels usage reported before any record named a model.
const kimiUnknownModel = "kimi-unknown"

// kimiDecoder reads Kimi CLI wire logs. StatusUpdate events carry per-step
// usage; the model is remembered across records.
type kimiDecoder struct {
	source string
	model  string
}

func (d *kimiDecoder) Decode(rec []byte) ([]models.UsageEntry, error) {
	r := gjson.GetManyBytes(rec, "timestamp", "message.type", "message.payload")
	if r[1].String() != "StatusUpdate" {
		return nil, nil
	}
	payload := r[2]
	if m := firstString(payload.Get("model_name"), payload.Get("model"), payload.Get("model_id")); m != "" {
		d.model = m
	}
	usage := payload.Get("token_usage")
	if !usage.IsObject() {
		return nil, nil
	}
	n, err := tokenCounts(usage, "input_other", "output", "input_cache_creation", "input_cache_read")
	if err != nil {
		return nil, err
	}
	tokens := models.TokenUsage{Input: n[0], Output: n[1], CacheCreation: n[2], CacheRead: n[3]}
	if tokens.IsZero() {
		return nil, nil
	}
	ts, err := timestamp(r[0])
	if err != nil {
		return nil, err
	}
	model := d.model
	if model == "" {
		model = kimiUnknownModel
	}
	e := models.NewUsageEntry(d.source, ts, model, tokens)
	if id := payload.Get("message_id").String(); id != "" {
		e = e.WithDedupKey(id)
	}
	return []models.UsageEntry{e}, nil
}
