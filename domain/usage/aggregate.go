package usage

import "time"

// Aggregate combines records into a summary.
// Records outside [periodStart, periodEnd) are skipped.
// This is a PURE function.
func Aggregate(records []Record, periodStart, periodEnd time.Time) Summary {
	s := Summary{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ByModel:     make(map[string]ModelSummary),
	}

	for _, r := range records {
		if r.Timestamp.Before(periodStart) || !r.Timestamp.Before(periodEnd) {
			continue
		}
		if s.KeyID == "" {
			s.KeyID = r.KeyID
		}

		s.RequestCount++
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.CacheTokens += r.CacheCreationTokens + r.CacheReadTokens
		s.TotalTokens += r.TotalTokens()
		s.TotalCost += r.TotalCost

		m := s.ByModel[r.Model]
		m.Requests++
		m.Tokens += r.TotalTokens()
		m.Cost += r.TotalCost
		s.ByModel[r.Model] = m
	}

	return s
}

// MergeSummaries combines multiple summaries.
// This is a PURE function.
func MergeSummaries(summaries ...Summary) Summary {
	if len(summaries) == 0 {
		return Summary{}
	}

	result := summaries[0]
	result.ByModel = make(map[string]ModelSummary, len(summaries[0].ByModel))
	for k, v := range summaries[0].ByModel {
		result.ByModel[k] = v
	}

	for _, s := range summaries[1:] {
		result.RequestCount += s.RequestCount
		result.InputTokens += s.InputTokens
		result.OutputTokens += s.OutputTokens
		result.CacheTokens += s.CacheTokens
		result.TotalTokens += s.TotalTokens
		result.TotalCost += s.TotalCost

		if s.PeriodStart.Before(result.PeriodStart) {
			result.PeriodStart = s.PeriodStart
		}
		if s.PeriodEnd.After(result.PeriodEnd) {
			result.PeriodEnd = s.PeriodEnd
		}
		for k, v := range s.ByModel {
			m := result.ByModel[k]
			m.Requests += v.Requests
			m.Tokens += v.Tokens
			m.Cost += v.Cost
			result.ByModel[k] = m
		}
	}

	return result
}

// DayBounds returns the UTC day containing t.
// This is a PURE function.
func DayBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
