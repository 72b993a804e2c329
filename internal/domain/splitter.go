package domain

// span is a half-open rune range [start, end) of the normalized text.
type span struct {
	start int
	end   int
}

func (s span) len() int {
	return s.end - s.start
}

// splitLongSpan splits a paragraph longer than size at sentence boundaries,
// and sentences that are still too long at word boundaries.
func splitLongSpan(runes []rune, para span, size int) []span {
	if para.len() <= size {
		return []span{para}
	}

	var result []span
	for _, group := range packSpans(sentenceSpans(runes, para), size) {
		if group.len() <= size {
			result = append(result, group)
			continue
		}
		result = append(result, packSpans(wordSpans(runes, group), size)...)
	}
	return result
}

// packSpans greedily joins consecutive units while the joined range fits in size.
func packSpans(units []span, size int) []span {
	var packed []span
	for _, u := range units {
		if n := len(packed); n > 0 && u.end-packed[n-1].start <= size {
			packed[n-1].end = u.end
			continue
		}
		packed = append(packed, u)
	}
	return packed
}

func isSentenceTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
}

// sentenceSpans splits s after . ! ? followed by a space or the end of s.
// Full-width terminals end a sentence regardless of what follows.
func sentenceSpans(runes []rune, s span) []span {
	var sentences []span
	start := s.start
	for i := s.start; i < s.end; i++ {
		r := runes[i]
		if !isSentenceTerminal(r) {
			continue
		}
		fullWidth := r == '。' || r == '！' || r == '？'
		if !fullWidth && i+1 < s.end && runes[i+1] != ' ' {
			continue
		}
		sentences = append(sentences, span{start: start, end: i + 1})
		start = skipSpaces(runes, i+1, s.end)
		i = start - 1
	}
	if start < s.end {
		sentences = append(sentences, span{start: start, end: s.end})
	}
	return sentences
}

// wordSpans splits s on single spaces.
func wordSpans(runes []rune, s span) []span {
	var words []span
	start := s.start
	for i := s.start; i < s.end; i++ {
		if runes[i] != ' ' {
			continue
		}
		if i > start {
			words = append(words, span{start: start, end: i})
		}
		start = i + 1
	}
	if start < s.end {
		words = append(words, span{start: start, end: s.end})
	}
	return words
}

func skipSpaces(runes []rune, from, limit int) int {
	for from < limit && runes[from] == ' ' {
		from++
	}
	return from
}
