package model

type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "Desktop"
	DeviceTypeMobile  DeviceType = "Mobile"
	DeviceTypeTablet  DeviceType = "Tablet"
)

var DeviceTypes = []string{
	string(DeviceTypeDesktop),
	string(DeviceTypeMobile),
	string(DeviceTypeTablet),
}

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceTypeDesktop, DeviceTypeMobile, DeviceTypeTablet:
		return true
	}
	return false
}

// DwellEventType classifies rows exported to the analytics warehouse.
type DwellEventType string

const (
	DwellEventPageView     DwellEventType = "page_view"
	DwellEventSectionDwell DwellEventType = "section_dwell"
)

// VisitorEventType names the live activity events published to admin streams.
type VisitorEventType string

const (
	VisitorEventSessionCreated    VisitorEventType = "session_created"
	VisitorEventAnalyticsAppended VisitorEventType = "analytics_appended"
	VisitorEventSectionRecorded   VisitorEventType = "section_recorded"
	VisitorEventSessionUpdated    VisitorEventType = "session_updated"
	VisitorEventSessionDeleted    VisitorEventType = "session_deleted"
	VisitorEventSessionsPurged    VisitorEventType = "sessions_purged"
)
