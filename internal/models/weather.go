package models

import (
	"strings"

	"cloud.google.com/go/civil"
)

// PrecipitationType is the dominant form of precipitation for a day.
type PrecipitationType string

const (
	PrecipitationRain PrecipitationType = "rain"
	PrecipitationSnow PrecipitationType = "snow"
)

// Direction is a 16-point compass direction as reported by the weather backend.
type Direction string

const (
	North          Direction = "N"
	NorthNortheast Direction = "NNE"
	Northeast      Direction = "NE"
	EastNortheast  Direction = "ENE"
	East           Direction = "E"
	EastSoutheast  Direction = "ESE"
	Southeast      Direction = "SE"
	SouthSoutheast Direction = "SSE"
	South          Direction = "S"
	SouthSouthwest Direction = "SSW"
	Southwest      Direction = "SW"
	WestSouthwest  Direction = "WSW"
	West           Direction = "W"
	WestNorthwest  Direction = "WNW"
	Northwest      Direction = "NW"
	NorthNorthwest Direction = "NNW"
)

var directions = map[Direction]struct{}{
	North: {}, NorthNortheast: {}, Northeast: {}, EastNortheast: {},
	East: {}, EastSoutheast: {}, Southeast: {}, SouthSoutheast: {},
	South: {}, SouthSouthwest: {}, Southwest: {}, WestSouthwest: {},
	West: {}, WestNorthwest: {}, Northwest: {}, NorthNorthwest: {},
}

// ParseDirection returns the Direction for a cardinal abbreviation such as "NNW".
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := directions[d]
	return d, ok
}

// MoonPhase is one of the eight named lunar phases.
type MoonPhase string

const (
	MoonNew            MoonPhase = "new moon"
	MoonWaxingCrescent MoonPhase = "waxing crescent"
	MoonFirstQuarter   MoonPhase = "first quarter"
	MoonWaxingGibbous  MoonPhase = "waxing gibbous"
	MoonFull           MoonPhase = "full moon"
	MoonWaningGibbous  MoonPhase = "waning gibbous"
	MoonLastQuarter    MoonPhase = "last quarter"
	MoonWaningCrescent MoonPhase = "waning crescent"
)

// ParseMoonPhase accepts the backend's phase names in any case ("Last Quarter").
func ParseMoonPhase(s string) (MoonPhase, bool) {
	p := MoonPhase(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case MoonNew, MoonWaxingCrescent, MoonFirstQuarter, MoonWaxingGibbous,
		MoonFull, MoonWaningGibbous, MoonLastQuarter, MoonWaningCrescent:
		return p, true
	}
	return "", false
}

// Record is the weather for a single day. Nil fields were not reported by any source.
// Humidity and AQI are part of the schema but no source populates them yet.
type Record struct {
	High                *int               `json:"high,omitempty"`
	Low                 *int               `json:"low,omitempty"`
	PrecipitationChance *int               `json:"precipitationChance,omitempty"` // 0-100
	PrecipitationAmount *float64           `json:"precipitationAmount,omitempty"` // inches
	PrecipitationType   *PrecipitationType `json:"precipitationType,omitempty"`
	WindSpeed           *int               `json:"windSpeed,omitempty"` // mph
	WindDirection       *Direction         `json:"windDirection,omitempty"`
	Humidity            *int               `json:"humidity,omitempty"`
	Sunrise             *civil.Time        `json:"sunrise,omitempty"`
	Sunset              *civil.Time        `json:"sunset,omitempty"`
	MoonPhase           *MoonPhase         `json:"moonPhase,omitempty"`
	AQI                 *int               `json:"aqi,omitempty"`
}

// IsEmpty reports whether no field has been populated.
func (r Record) IsEmpty() bool {
	return r == Record{}
}

// Location is a resolved place that weather can be fetched for.
type Location struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Ptr returns a pointer to v. Used to populate optional Record fields.
func Ptr[T any](v T) *T {
	return &v
}
