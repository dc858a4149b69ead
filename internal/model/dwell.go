package model

import (
	"encoding/json"
	"time"
)

// DwellEvent is one flattened row of the warehouse event log.
type DwellEvent struct {
	EventID         string         `json:"eventId"`
	SessionID       string         `json:"sessionId"`
	EventType       DwellEventType `json:"eventType"`
	PageName        string         `json:"pageName"`
	PreviousPage    string         `json:"previousPage,omitempty"`
	SectionName     string         `json:"sectionName,omitempty"`
	PreviousSection string         `json:"previousSection,omitempty"`
	DurationSeconds int64          `json:"durationSeconds"`
	DeviceType      string         `json:"deviceType,omitempty"`
	RecordedAt      time.Time      `json:"recordedAt"`
}

// PageStat is an aggregate over page_view rows.
type PageStat struct {
	PageName string `json:"pageName"`
	Views    uint64 `json:"views"`
	Sessions uint64 `json:"sessions"`
}

// SectionStat is an aggregate over section_dwell rows of one page.
type SectionStat struct {
	SectionName     string  `json:"sectionName"`
	Dwells          uint64  `json:"dwells"`
	AvgDurationSecs float64 `json:"avgDurationSeconds"`
	MaxDurationSecs int64   `json:"maxDurationSeconds"`
}

// VisitorActivity is the payload of a live activity event.
type VisitorActivity struct {
	Type       VisitorEventType `json:"type"`
	SessionID  string           `json:"sessionId,omitempty"`
	PageName   string           `json:"pageName,omitempty"`
	Section    string           `json:"section,omitempty"`
	Duration   int64            `json:"duration,omitempty"`
	Count      int64            `json:"count,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func (a VisitorActivity) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(a)
	return data
}
