package tracker

import (
	"context"
	"slices"

	"github.com/pario-ai/toktrack/pkg/aggregate"
	"github.com/pario-ai/toktrack/pkg/models"
)

// Summary prices the buckets selected by q.
//
// With the cache enabled the buckets come from the cache, so committed past
// dates are answered without touching raw files. Without it they come from
// the last refresh in this process, running one first if needed.
func (s *Service) Summary(ctx context.Context, q Query) (models.Summary, error) {
	buckets, err := s.buckets(ctx, q)
	if err != nil {
		return models.Summary{}, err
	}
	return s.engine.Summarize(filter(buckets, q)), nil
}

// Daily returns one row per date, summed across sources.
func (s *Service) Daily(ctx context.Context, q Query) ([]models.DailySummary, error) {
	sum, err := s.Summary(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.ByDate(sum.Daily), nil
}

// Models returns per-model totals.
func (s *Service) Models(ctx context.Context, q Query) ([]models.ModelSummary, error) {
	sum, err := s.Summary(ctx, q)
	if err != nil {
		return nil, err
	}
	return sum.Models, nil
}

// Weekly returns ISO-week rollups.
func (s *Service) Weekly(ctx context.Context, q Query) ([]models.PeriodSummary, error) {
	daily, err := s.Daily(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.Weekly(daily), nil
}

// Monthly returns calendar-month rollups.
func (s *Service) Monthly(ctx context.Context, q Query) ([]models.PeriodSummary, error) {
	daily, err := s.Daily(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.Monthly(daily), nil
}

// Stats returns headline figures.
func (s *Service) Stats(ctx context.Context, q Query) (models.Stats, error) {
	daily, err := s.Daily(ctx, q)
	if err != nil {
		return models.Stats{}, err
	}
	return aggregate.Stats(daily), nil
}

func (s *Service) buckets(ctx context.Context, q Query) ([]models.DailyBucket, error) {
	if s.cache != nil {
		variants, err := s.registry.Filter(q.Sources)
		if err != nil {
			return nil, err
		}
		var out []models.DailyBucket
		for _, v := range variants {
			bs, err := s.cache.Range(ctx, v.Descriptor().ID, q.From, q.To)
			if err != nil {
				return nil, err
			}
			out = append(out, bs...)
		}
		aggregate.SortBuckets(out)
		return out, nil
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		if _, err := s.Refresh(ctx, RefreshOptions{SkipBackup: true}); err != nil {
			return nil, err
		}
		s.mu.Lock()
		last = s.last
		s.mu.Unlock()
	}
	return last, nil
}

// filter applies the date, source and model bounds of q. Buckets are
// copied, never modified.
func filter(buckets []models.DailyBucket, q Query) []models.DailyBucket {
	model := ""
	if q.Model != "" {
		model = models.NormalizeModel(q.Model)
	}
	var out []models.DailyBucket
	for _, b := range buckets {
		if (q.From != "" && b.Date < q.From) || (q.To != "" && b.Date > q.To) {
			continue
		}
		if len(q.Sources) > 0 && !slices.Contains(q.Sources, b.Source) {
			continue
		}
		if model == "" {
			out = append(out, b)
			continue
		}
		u, ok := b.Models[model]
		if !ok {
			continue
		}
		out = append(out, models.DailyBucket{
			Source:  b.Source,
			Date:    b.Date,
			Models:  map[string]models.ModelUsage{model: u},
			Records: u.Records,
		})
	}
	return out
}
