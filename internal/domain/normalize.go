package domain

import "strings"

// ParagraphSeparator is the only line break that survives NormalizeText.
const ParagraphSeparator = "\n\n"

// NormalizeText collapses whitespace inside lines to single spaces, joins
// soft-wrapped lines of one paragraph with a space and separates paragraphs
// (runs of blank lines in the input) with exactly one ParagraphSeparator.
// The result has no leading or trailing whitespace.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, " "))
			lines = lines[:0]
		}
	}

	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			flush()
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}
	flush()

	return strings.Join(paragraphs, ParagraphSeparator)
}

// paragraphSpans returns the paragraph boundaries of normalized text.
func paragraphSpans(runes []rune) []span {
	if len(runes) == 0 {
		return nil
	}

	var spans []span
	start := 0
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			if i > start {
				spans = append(spans, span{start: start, end: i})
			}
			start = i + 2
			i++
		}
	}
	if start < len(runes) {
		spans = append(spans, span{start: start, end: len(runes)})
	}
	return spans
}
