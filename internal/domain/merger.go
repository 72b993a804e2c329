package domain

// mergeShortSpans folds a span into its predecessor when either of them is
// shorter than minSize and the joined range still fits in maxSize.
// A short span that fits nowhere is kept as is, never dropped.
func mergeShortSpans(spans []span, minSize, maxSize int) []span {
	if len(spans) <= 1 {
		return spans
	}

	merged := make([]span, 0, len(spans))
	for _, s := range spans {
		if n := len(merged); n > 0 {
			prev := merged[n-1]
			if (s.len() < minSize || prev.len() < minSize) && s.end-prev.start <= maxSize {
				merged[n-1].end = s.end
				continue
			}
		}
		merged = append(merged, s)
	}

	return merged
}
