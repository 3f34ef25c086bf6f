package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TopicDescriptor pairs a base topic with the versioned topic id used by the export API.
type TopicDescriptor struct {
	BaseTopic      string
	TopicVersionID string
}

const topicVersion = "v2_0"

// Base topics published on geodienste.ch that are retrieved.
const (
	PerimeterLnSf                  = "lwb_perimeter_ln_sf"
	Rebbaukataster                 = "lwb_rebbaukataster"
	PerimeterTerrassenreben        = "lwb_perimeter_terrassenreben"
	Biodiversitaetsfoerderflaechen = "lwb_biodiversitaetsfoerderflaechen"
	Bewirtschaftungseinheit        = "lwb_bewirtschaftungseinheit"
	Nutzungsflaechen               = "lwb_nutzungsflaechen"
)

var topics = []TopicDescriptor{
	versioned(PerimeterLnSf),
	versioned(Rebbaukataster),
	versioned(PerimeterTerrassenreben),
	versioned(Biodiversitaetsfoerderflaechen),
	versioned(Bewirtschaftungseinheit),
	versioned(Nutzungsflaechen),
}

var cantons = []string{
	"AG", "AI", "AR", "BE", "BL", "BS", "FR", "GE", "GL", "GR", "JU", "LU", "NE",
	"NW", "OW", "SG", "SH", "SO", "SZ", "TG", "TI", "UR", "VD", "VS", "ZG", "ZH",
}

func versioned(base string) TopicDescriptor {
	return TopicDescriptor{BaseTopic: base, TopicVersionID: base + "_" + topicVersion}
}

// Topics returns a copy of the topic catalog.
func Topics() []TopicDescriptor {
	return append([]TopicDescriptor(nil), topics...)
}

// Cantons returns a copy of the canton codes that are queried.
func Cantons() []string {
	return append([]string(nil), cantons...)
}

// IsCanton reports whether code belongs to the canton set.
func IsCanton(code string) bool {
	for _, c := range cantons {
		if c == code {
			return true
		}
	}
	return false
}

// BaseTopicsCSV joins all base topics with commas.
func BaseTopicsCSV() string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.BaseTopic)
	}
	return strings.Join(names, ",")
}

// TopicVersionsCSV joins all versioned topic ids with commas.
func TopicVersionsCSV() string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.TopicVersionID)
	}
	return strings.Join(names, ",")
}

// CantonsCSV joins all canton codes with commas.
func CantonsCSV() string {
	return strings.Join(cantons, ",")
}

// TopicStatus is one entry of the services list reported by geodienste.ch.
// UpdatedAt is nil when the data is currently unavailable.
type TopicStatus struct {
	TopicTitle     string  `json:"topic_title"`
	BaseTopic      string  `json:"base_topic"`
	TopicVersionID string  `json:"topic"`
	Version        string  `json:"version"`
	Canton         string  `json:"canton"`
	UpdatedAt      *string `json:"updated_at"`
}

// Available reports whether the service published an update timestamp.
func (s TopicStatus) Available() bool {
	return s.UpdatedAt != nil
}

// ErrMalformedTimestamp is returned for updated_at values that cannot be parsed.
var ErrMalformedTimestamp = errors.New("malformed updated_at timestamp")

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a geodienste timestamp. Values without offset are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, value)
}

// UpdatedTime parses UpdatedAt. ok is false when the data is unavailable.
func (s TopicStatus) UpdatedTime(loc *time.Location) (t time.Time, ok bool, err error) {
	if s.UpdatedAt == nil {
		return time.Time{}, false, nil
	}
	t, err = ParseTimestamp(*s.UpdatedAt, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Key identifies one published state of a topic and canton.
func (s TopicStatus) Key() string {
	updated := ""
	if s.UpdatedAt != nil {
		updated = *s.UpdatedAt
	}
	return s.TopicVersionID + "|" + s.Canton + "|" + updated
}
