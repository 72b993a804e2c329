package domain

import (
	"strings"
	"time"
)

// TurnPart is one text part of a persisted turn.
type TurnPart struct {
	Text string `json:"text" bson:"text"`
}

// TurnRecord is the persisted form of a Turn: {role, parts:[{text}]}.
type TurnRecord struct {
	Role  Role       `json:"role" bson:"role"`
	Parts []TurnPart `json:"parts" bson:"parts"`
}

// DialogRecord is the persisted history of one session.
type DialogRecord struct {
	SessionID string       `json:"sessionId" bson:"sessionId"`
	History   []TurnRecord `json:"history" bson:"history"`
	CreatedAt time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// ToRecords converts turns to their persisted form, one part per turn.
func ToRecords(turns []Turn) []TurnRecord {
	records := make([]TurnRecord, 0, len(turns))
	for _, t := range turns {
		records = append(records, TurnRecord{Role: t.Role, Parts: []TurnPart{{Text: t.Text}}})
	}
	return records
}

// FromRecords converts persisted turns back, joining multi-part text.
func FromRecords(records []TurnRecord) []Turn {
	turns := make([]Turn, 0, len(records))
	for _, r := range records {
		texts := make([]string, 0, len(r.Parts))
		for _, p := range r.Parts {
			texts = append(texts, p.Text)
		}
		turns = append(turns, Turn{Role: r.Role, Text: strings.Join(texts, "")})
	}
	return turns
}
