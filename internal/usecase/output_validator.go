package usecase

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var sourceCitationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// ValidatedAnswer is generator output that passed validation.
type ValidatedAnswer struct {
	Text string
	// CitedSources lists distinct [Source N] numbers within range, ascending.
	CitedSources []int
	// UnknownCitations lists distinct [Source N] numbers outside 1..sourceCount.
	UnknownCitations []int
}

// OutputValidator checks free-text generator output against the sources it was given.
type OutputValidator struct{}

// NewOutputValidator creates a validator instance (currently stateless).
func NewOutputValidator() OutputValidator {
	return OutputValidator{}
}

// Validate trims raw and rejects empty output. Citations are collected, not
// enforced: the model may answer from prior dialogue alone.
func (v OutputValidator) Validate(raw string, sourceCount int) (*ValidatedAnswer, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("llm response is empty")
	}

	answer := &ValidatedAnswer{Text: trimmed}
	seen := make(map[int]struct{})
	for _, m := range sourceCitationPattern.FindAllStringSubmatch(trimmed, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if n >= 1 && n <= sourceCount {
			answer.CitedSources = append(answer.CitedSources, n)
		} else {
			answer.UnknownCitations = append(answer.UnknownCitations, n)
		}
	}
	sort.Ints(answer.CitedSources)
	sort.Ints(answer.UnknownCitations)

	return answer, nil
}
