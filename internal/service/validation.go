package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/model"
	"github.com/openclaw/visitor-analytics-go/internal/util"
)

// SessionDetailsInput is the unvalidated session_details object of a request.
type SessionDetailsInput struct {
	IPAddress   string `json:"ip_address"`
	Location    string `json:"location"`
	BrowserType string `json:"browser_type"`
	DeviceType  string `json:"device_type"`
}

// PageVisitInput is one unvalidated analytics entry. A nil PageSections
// means the field was absent and is stored as an empty list.
type PageVisitInput struct {
	PageName     string              `json:"page_name"`
	PreviousPage *string             `json:"previous_page"`
	PageSections []SectionVisitInput `json:"page_sections"`
}

type SectionVisitInput struct {
	Name            string       `json:"name"`
	PreviousSection *string      `json:"previous_section"`
	Duration        *json.Number `json:"duration"`
}

// ValidateSessionID rejects ids that could never have been issued, so they
// are reported as bad input rather than looked up.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.MissingRequired("session_id")
	}
	if !util.IsValidSessionID(id) {
		return apperrors.InvalidInput("session_id", fmt.Sprintf("must be %d digits", util.SessionIDLength))
	}
	return nil
}

func ValidateSessionDetails(field string, in *SessionDetailsInput) (model.SessionDetails, error) {
	if in == nil {
		return model.SessionDetails{}, apperrors.MissingRequired(field)
	}

	required := []struct {
		name  string
		value string
	}{
		{"ip_address", in.IPAddress},
		{"location", in.Location},
		{"browser_type", in.BrowserType},
		{"device_type", in.DeviceType},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return model.SessionDetails{}, apperrors.MissingRequired(field + "." + r.name)
		}
	}

	if !util.IsValidEnum(in.DeviceType, model.DeviceTypes) {
		return model.SessionDetails{}, apperrors.InvalidInput(
			field+".device_type",
			"must be one of "+strings.Join(model.DeviceTypes, ", "),
		)
	}

	return model.SessionDetails{
		IPAddress:   in.IPAddress,
		Location:    in.Location,
		BrowserType: in.BrowserType,
		DeviceType:  model.DeviceType(in.DeviceType),
	}, nil
}

func ValidateAnalytics(field string, pages []PageVisitInput) (model.Analytics, error) {
	out := make(model.Analytics, 0, len(pages))
	for i, page := range pages {
		pageField := fmt.Sprintf("%s[%d]", field, i)
		if strings.TrimSpace(page.PageName) == "" {
			return nil, apperrors.MissingRequired(pageField + ".page_name")
		}

		sections := make([]model.SectionVisit, 0, len(page.PageSections))
		for j, section := range page.PageSections {
			visit, err := ValidateSectionVisit(fmt.Sprintf("%s.page_sections[%d]", pageField, j), section)
			if err != nil {
				return nil, err
			}
			sections = append(sections, visit)
		}

		out = append(out, model.PageVisit{
			PageName:     page.PageName,
			PreviousPage: emptyToNil(page.PreviousPage),
			PageSections: sections,
		})
	}
	return out, nil
}

func ValidateSectionVisit(field string, in SectionVisitInput) (model.SectionVisit, error) {
	if strings.TrimSpace(in.Name) == "" {
		return model.SectionVisit{}, apperrors.MissingRequired(field + ".name")
	}

	duration, err := parseDuration(field+".duration", in.Duration)
	if err != nil {
		return model.SectionVisit{}, err
	}

	return model.SectionVisit{
		Name:            in.Name,
		PreviousSection: emptyToNil(in.PreviousSection),
		Duration:        duration,
	}, nil
}

// parseDuration accepts whole non-negative seconds only.
func parseDuration(field string, n *json.Number) (int64, error) {
	if n == nil || n.String() == "" {
		return 0, apperrors.MissingRequired(field)
	}

	seconds, err := n.Int64()
	if err != nil {
		return 0, apperrors.InvalidInput(field, "must be a whole number of seconds")
	}
	if seconds < 0 {
		return 0, apperrors.InvalidInput(field, "must not be negative")
	}
	return seconds, nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return lo.ToPtr(*s)
}
