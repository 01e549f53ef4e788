package source

import (
	"github.com/tidwall/gjson"

	"github.com/pario-ai/toktrack/pkg/models"
)

const codexFallbackModel = "gpt-5"

// codexDecoder reads Codex CLI session rollouts. The model comes from the
// most recent turn_context record, so the decoder is stateful per file.
type codexDecoder struct {
	source string
	model  string
	prev   *codexTotals
}

type codexTotals struct {
	input, cached, output int64
}

func (d *codexDecoder) Decode(rec []byte) ([]models.UsageEntry, error) {
	r := gjson.GetManyBytes(rec, "type", "timestamp", "payload")
	payload := r[2]

	switch r[0].String() {
	case "turn_context":
		if m := payload.Get("model").String(); m != "" {
			d.model = m
		}
		return nil, nil
	case "event_msg":
		if payload.Get("type").String() != "token_count" {
			return nil, nil
		}
	default:
		return nil, nil
	}

	info := payload.Get("info")
	if !info.IsObject() {
		return nil, nil
	}
	if m := firstString(info.Get("model"), info.Get("model_name"), info.Get("metadata.model")); m != "" {
		d.model = m
	}

	var total *codexTotals
	if t := info.Get("total_token_usage"); t.IsObject() {
		v, err := codexUsage(t)
		if err != nil {
			return nil, err
		}
		// The same cumulative total logged twice is one event.
		if d.prev != nil && *d.prev == v {
			return nil, nil
		}
		total = &v
	}

	var delta codexTotals
	switch last := info.Get("last_token_usage"); {
	case last.IsObject():
		v, err := codexUsage(last)
		if err != nil {
			return nil, err
		}
		delta = v
	case total != nil:
		delta = *total
		if d.prev != nil {
			delta = codexTotals{
				input:  max(total.input-d.prev.input, 0),
				cached: max(total.cached-d.prev.cached, 0),
				output: max(total.output-d.prev.output, 0),
			}
		}
	default:
		return nil, nil
	}
	if total != nil {
		d.prev = total
	}
	if delta == (codexTotals{}) {
		return nil, nil
	}

	ts, err := timestamp(r[1])
	if err != nil {
		return nil, err
	}
	model := d.model
	if model == "" {
		model = codexFallbackModel
	}
	cached := min(delta.cached, delta.input)
	tokens := models.TokenUsage{
		Input:     delta.input - cached,
		Output:    delta.output,
		CacheRead: cached,
	}
	return []models.UsageEntry{models.NewUsageEntry(d.source, ts, model, tokens)}, nil
}

// codexUsage reads one usage object. Input includes cached input, and
// output already includes reasoning output.
func codexUsage(obj gjson.Result) (codexTotals, error) {
	n, err := tokenCounts(obj, "input_tokens", "cached_input_tokens", "output_tokens")
	if err != nil {
		return codexTotals{}, err
	}
	return codexTotals{input: n[0], cached: n[1], output: n[2]}, nil
}
