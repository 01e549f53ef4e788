package source

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/toktrack/pkg/models"
)

// geminiDecoder reads Gemini CLI chat sessions, one JSON document per file.
type geminiDecoder struct {
	source string
}

// Decode emits one entry per "gemini" message with token data. A bad
// message is skipped and reported while the others are kept.
func (d *geminiDecoder) Decode(rec []byte) ([]models.UsageEntry, error) {
	doc := gjson.ParseBytes(rec)
	msgs := doc.Get("messages")
	if !msgs.IsArray() {
		return nil, fmt.Errorf("%w: no messages array", ErrMalformed)
	}
	session := doc.Get("sessionId").String()

	var (
		entries []models.UsageEntry
		bad     error
	)
	msgs.ForEach(func(_, msg gjson.Result) bool {
		e, ok, err := d.message(session, msg)
		switch {
		case err != nil:
			if bad == nil {
				bad = err
			}
		case ok:
			entries = append(entries, e)
		}
		return true
	})
	return entries, bad
}

func (d *geminiDecoder) message(session string, msg gjson.Result) (models.UsageEntry, bool, error) {
	tok := msg.Get("tokens")
	if msg.Get("type").String() != "gemini" || !tok.IsObject() {
		return models.UsageEntry{}, false, nil
	}
	n, err := tokenCounts(tok, "input", "output", "cached", "thoughts")
	if err != nil {
		return models.UsageEntry{}, false, err
	}
	input, output, cached, thoughts := n[0], n[1], n[2], n[3]
	if input == 0 && output == 0 {
		return models.UsageEntry{}, false, nil
	}
	ts, err := timestamp(msg.Get("timestamp"))
	if err != nil {
		return models.UsageEntry{}, false, err
	}
	cached = min(cached, input)
	e := models.NewUsageEntry(d.source, ts, msg.Get("model").String(), models.TokenUsage{
		Input:     input - cached,
		Output:    output + thoughts,
		CacheRead: cached,
	})
	if id := msg.Get("id").String(); id != "" && session != "" {
		e = e.WithDedupKey(session + ":" + id)
	}
	return e, true, nil
}
