package domain

import (
	"errors"
	"time"
)

var ErrInsightInvalid = errors.New("insight invalid")

type InsightType string

const (
	InsightSummary    InsightType = "summary"
	InsightActionItem InsightType = "action_item"
	InsightSentiment  InsightType = "sentiment"
	InsightTopic      InsightType = "topic"
	InsightCompliance InsightType = "compliance"
	InsightSuggestion InsightType = "suggestion"
)

func (t InsightType) Valid() bool {
	switch t {
	case InsightSummary, InsightActionItem, InsightSentiment, InsightTopic, InsightCompliance, InsightSuggestion:
		return true
	}
	return false
}

// Insight is produced by an external analysis engine and only relayed here.
type Insight struct {
	ID            string        `json:"id"`
	Type          InsightType   `json:"type"`
	Content       string        `json:"content"`
	Confidence    float64       `json:"confidence"`
	ParticipantID ParticipantID `json:"participantId,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (i Insight) Validate() error {
	if !i.Type.Valid() || i.Confidence < 0 || i.Confidence > 1 {
		return ErrInsightInvalid
	}
	return nil
}

// InsightRequest asks the analysis engines to look at a piece of text.
type InsightRequest struct {
	Text  string        `json:"text"`
	Types []InsightType `json:"types,omitempty"`
}
