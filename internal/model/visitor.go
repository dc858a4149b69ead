package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VisitorSession is one tracked browsing episode of one visitor.
type VisitorSession struct {
	ID        int64           `db:"id" json:"-"`
	SessionID string          `db:"session_id" json:"session_id"`
	Details   *SessionDetails `db:"session_details" json:"session_details"`
	Analytics Analytics       `db:"analytics" json:"analytics"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Enriched reports whether device and network metadata has been recorded.
func (s *VisitorSession) Enriched() bool {
	return s.Details != nil && s.Details.Complete()
}

type SessionDetails struct {
	IPAddress   string     `json:"ip_address"`
	Location    string     `json:"location"`
	BrowserType string     `json:"browser_type"`
	DeviceType  DeviceType `json:"device_type"`
}

func (d SessionDetails) Complete() bool {
	return d.IPAddress != "" && d.Location != "" && d.BrowserType != "" && d.DeviceType.Valid()
}

func (d SessionDetails) Value() (driver.Value, error) {
	return marshalJSONB(d)
}

func (d *SessionDetails) Scan(src any) error {
	return scanJSON(src, d)
}

// PageVisit is one page the visitor landed on within a session.
type PageVisit struct {
	PageName     string         `json:"page_name"`
	PreviousPage *string        `json:"previous_page"`
	PageSections []SectionVisit `json:"page_sections"`
}

// SectionVisit records the seconds spent in the section that was active
// before Name was entered; the duration belongs to the outgoing section.
type SectionVisit struct {
	Name            string  `json:"name"`
	PreviousSection *string `json:"previous_section"`
	Duration        int64   `json:"duration"`
}

// Analytics is the append-only page log stored as a JSONB array.
type Analytics []PageVisit

// Normalized returns a copy with nil section slices replaced by empty ones so
// the stored document always holds arrays.
func (a Analytics) Normalized() Analytics {
	out := make(Analytics, len(a))
	for i, page := range a {
		if page.PageSections == nil {
			page.PageSections = []SectionVisit{}
		}
		out[i] = page
	}
	return out
}

func (a Analytics) Value() (driver.Value, error) {
	return marshalJSONB(a.Normalized())
}

func (a *Analytics) Scan(src any) error {
	if src == nil {
		*a = Analytics{}
		return nil
	}
	return scanJSON(src, a)
}

func (a Analytics) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]PageVisit(a))
}

// SectionCount returns the total number of section visits across pages.
func (a Analytics) SectionCount() int {
	n := 0
	for _, page := range a {
		n += len(page.PageSections)
	}
	return n
}

// marshalJSONB encodes v as text; lib/pq would otherwise send []byte as bytea.
func marshalJSONB(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// ListVisitorSessionsResult is one page of sessions plus the total count.
type ListVisitorSessionsResult struct {
	Sessions []VisitorSession
	Total    int
	Page     int
	PerPage  int
}

func (r ListVisitorSessionsResult) TotalPages() int {
	if r.PerPage <= 0 {
		return 0
	}
	return (r.Total + r.PerPage - 1) / r.PerPage
}

type CreateVisitorSessionParams struct {
	SessionID string
	Details   *SessionDetails
	Analytics Analytics
}
