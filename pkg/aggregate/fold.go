// Package aggregate folds usage entries into daily buckets and prices them.
//
// Folding is a commutative, associative reduction: any split of the input,
// folded separately and merged in any order, gives the same buckets.
package aggregate

import (
	"sort"
	"time"

	"github.com/pario-ai/toktrack/pkg/models"
)

// Key identifies a DailyBucket.
type Key struct {
	Source string
	Date   string
}

// Partial is a set of buckets under construction.
type Partial map[Key]models.DailyBucket

// Fold aggregates entries by source and calendar date in loc.
func Fold(entries []models.UsageEntry, loc *time.Location) Partial {
	p := make(Partial)
	for _, e := range entries {
		p.Add(e, loc)
	}
	return p
}

// Add folds one entry into p.
func (p Partial) Add(e models.UsageEntry, loc *time.Location) {
	k := Key{Source: e.Source, Date: e.Date(loc)}
	b, ok := p[k]
	if !ok {
		b = models.DailyBucket{Source: k.Source, Date: k.Date, Models: make(map[string]models.ModelUsage)}
	}
	b.Models[e.Model] = b.Models[e.Model].Merge(usageOf(e))
	b.Records++
	p[k] = b
}

func usageOf(e models.UsageEntry) models.ModelUsage {
	u := models.ModelUsage{Tokens: e.Tokens, Records: 1}
	if e.Cost.Valid {
		u.LoggedUSD = e.Cost.Decimal
	} else {
		u.Unpriced = e.Tokens
		u.UnpricedRecords = 1
	}
	return u
}

// Merge returns the union of a and b, summing buckets present in both.
// Neither input is modified.
func Merge(a, b Partial) Partial {
	out := make(Partial, len(a)+len(b))
	for _, p := range []Partial{a, b} {
		for k, bucket := range p {
			if cur, ok := out[k]; ok {
				out[k] = MergeBuckets(cur, bucket)
			} else {
				out[k] = cloneBucket(bucket)
			}
		}
	}
	return out
}

// MergeBuckets sums two buckets with the same key.
func MergeBuckets(a, b models.DailyBucket) models.DailyBucket {
	out := cloneBucket(a)
	for model, u := range b.Models {
		out.Models[model] = out.Models[model].Merge(u)
	}
	out.Records += b.Records
	return out
}

func cloneBucket(b models.DailyBucket) models.DailyBucket {
	c := b
	c.Models = make(map[string]models.ModelUsage, len(b.Models))
	for m, u := range b.Models {
		c.Models[m] = u
	}
	return c
}

// Buckets returns the buckets sorted by date then source.
func (p Partial) Buckets() []models.DailyBucket {
	out := make([]models.DailyBucket, 0, len(p))
	for _, b := range p {
		out = append(out, b)
	}
	SortBuckets(out)
	return out
}

// SortBuckets orders buckets by date then source.
func SortBuckets(bs []models.DailyBucket) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Date != bs[j].Date {
			return bs[i].Date < bs[j].Date
		}
		return bs[i].Source < bs[j].Source
	})
}
