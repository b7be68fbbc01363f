package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{"origin", Coordinate{0, 0}, false},
		{"poles", Coordinate{90, 180}, false},
		{"south west", Coordinate{-90, -180}, false},
		{"lat too high", Coordinate{90.0001, 0}, true},
		{"lon too low", Coordinate{0, -180.5}, true},
		{"nan", Coordinate{math.NaN(), 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseCoordinate(t *testing.T) {
	c, err := ParseCoordinate("40.0,-74.0")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Lat: 40, Lon: -74}, c)

	_, err = ParseCoordinate("north")
	assert.Error(t, err)

	_, err = ParseCoordinate("91,0")
	assert.Error(t, err)
}

func TestScoreJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Score `json:"a"`
		B Score `json:"b"`
	}{Applicable(0.5), NotApplicable()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0.5,"b":null}`, string(data))

	var out struct {
		A Score `json:"a"`
		B Score `json:"b"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	v, ok := out.A.Value()
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
	assert.False(t, out.B.IsApplicable())
	assert.Equal(t, 0.25, out.B.Or(0.25))
}

func TestEventValidate(t *testing.T) {
	size := int64(-1)
	tests := []struct {
		name  string
		event ForensicEvent
		field string
	}{
		{"missing id", ForensicEvent{InvestigationID: "inv"}, "id"},
		{"missing investigation", ForensicEvent{ID: "e1"}, "investigation_id"},
		{"negative size", ForensicEvent{ID: "e1", InvestigationID: "inv", Size: &size}, "file_size"},
		{"unknown type", ForensicEvent{ID: "e1", InvestigationID: "inv", Type: "exploded"}, "event_type"},
		{"bad location", ForensicEvent{ID: "e1", InvestigationID: "inv", Location: &Coordinate{Lat: 100}}, "location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, "event", verr.Kind)
		})
	}

	ok := ForensicEvent{ID: "e1", InvestigationID: "inv"}
	assert.NoError(t, ok.Validate())
	ok.Type = EventTypeDeleted
	assert.NoError(t, ok.Validate())
}

func TestItemValidate(t *testing.T) {
	item := OSINTItem{ID: "i1", InvestigationID: "inv", Source: "carrier-pigeon"}
	assert.Error(t, item.Validate())

	item.Source = SourceNewsArticle
	assert.NoError(t, item.Validate())

	item.Location = &Coordinate{Lat: 0, Lon: 200}
	assert.Error(t, item.Validate())
}

func TestEventText(t *testing.T) {
	e := ForensicEvent{FilePath: "/home/user/protest_plans.docx", Description: "downtown meeting"}
	assert.Equal(t, "home user protest plans docx downtown meeting", e.Text())
	assert.Equal(t, "docx", e.Extension())

	e = ForensicEvent{FilePath: "/etc/hosts"}
	assert.Equal(t, "none", e.Extension())
}

func TestCorrelationID(t *testing.T) {
	a := CorrelationID("e1", "i1")
	assert.Equal(t, a, CorrelationID("e1", "i1"))
	assert.NotEqual(t, a, CorrelationID("i1", "e1"))
	assert.NotEqual(t, a, CorrelationID("e1|i", "1"))
}

func TestConfidenceOf(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ConfidenceOf(0.71))
	assert.Equal(t, ConfidenceMedium, ConfidenceOf(0.7))
	assert.Equal(t, ConfidenceMedium, ConfidenceOf(0.41))
	assert.Equal(t, ConfidenceLow, ConfidenceOf(0.4))
}

func TestEventSummary(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := ForensicEvent{FilePath: "/tmp/a.txt", Type: EventTypeModified, Timestamp: &ts}
	assert.Equal(t, "/tmp/a.txt modified at 2024-03-01T12:00:00Z", e.Summary())
}
