package domain

import (
	"fmt"
	"math"
)

// =============================================================================
// IDENTIFIERS AND ENUMERATIONS
// =============================================================================

// InvestigationID is a strongly-typed investigation identifier
type InvestigationID string

// EventType is the kind of filesystem timeline entry
type EventType string

const (
	EventTypeCreated  EventType = "created"
	EventTypeModified EventType = "modified"
	EventTypeAccessed EventType = "accessed"
	EventTypeChanged  EventType = "changed" // inode metadata change
	EventTypeDeleted  EventType = "deleted"
	EventTypeOther    EventType = "other"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventTypeCreated, EventTypeModified, EventTypeAccessed,
		EventTypeChanged, EventTypeDeleted, EventTypeOther:
		return true
	}
	return false
}

// ParseEventType maps loose input onto an EventType. Unknown values map to other.
func ParseEventType(s string) EventType {
	t := EventType(s)
	if t.Valid() {
		return t
	}
	return EventTypeOther
}

// OSINTSource identifies where an OSINT item was collected from
type OSINTSource string

const (
	SourceSocialPost  OSINTSource = "social-post"
	SourceNewsArticle OSINTSource = "news-article"
	SourceWebPage     OSINTSource = "web-page"
	SourceOther       OSINTSource = "other"
)

// Valid reports whether s is a known source
func (s OSINTSource) Valid() bool {
	switch s {
	case SourceSocialPost, SourceNewsArticle, SourceWebPage, SourceOther:
		return true
	}
	return false
}

// ParseOSINTSource maps loose input onto an OSINTSource. Unknown values map to other.
func ParseOSINTSource(s string) OSINTSource {
	src := OSINTSource(s)
	if src.Valid() {
		return src
	}
	return SourceOther
}

// =============================================================================
// GEOGRAPHY
// =============================================================================

// Coordinate is a WGS84 latitude/longitude pair in degrees
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate checks the coordinate lies on the globe
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("coordinate contains NaN")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", c.Lon)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// ParseCoordinate parses "lat,lon"
func ParseCoordinate(s string) (Coordinate, error) {
	var c Coordinate
	if _, err := fmt.Sscanf(s, "%g,%g", &c.Lat, &c.Lon); err != nil {
		return Coordinate{}, fmt.Errorf("parse coordinate %q: %w", s, err)
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}
