package weather

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/kjstillabower/drone/internal/models"
)

// Attributes a user can ask about.
const (
	AttrTemperature   = "temperature"
	AttrPrecipitation = "precipitation"
	AttrWind          = "wind"
	AttrSunrise       = "sunrise"
	AttrSunset        = "sunset"
	AttrMoonPhase     = "moon_phase"
)

// NoDataResponse is returned when none of the requested attributes have data.
const NoDataResponse = "Sorry, but I couldn't find the requested weather data for that date."

// windGate is the speed below which wind is only mentioned when asked for explicitly.
const windGate = 20

var defaultAttributes = []string{AttrTemperature, AttrPrecipitation, AttrWind}

// FormatResponse renders rec as a sentence about city on target. An empty attribute
// means temperature, precipitation and wind; otherwise only that attribute is described.
func FormatResponse(city string, target, reference civil.Date, rec models.Record, attribute string) string {
	attrs := defaultAttributes
	if attribute = strings.TrimSpace(attribute); attribute != "" {
		attrs = []string{attribute}
	}
	single := len(attrs) == 1
	v := verb(target, reference)

	var clauses []string
	for _, attr := range attrs {
		var clause string
		switch attr {
		case AttrTemperature:
			clause = temperatureClause(rec, v)
		case AttrPrecipitation:
			clause = precipitationClause(rec, v, single, !target.Before(reference))
		case AttrWind:
			if rec.WindSpeed != nil && (single || *rec.WindSpeed >= windGate) {
				clause = fmt.Sprintf("there %s %d mph winds", v, *rec.WindSpeed)
			}
		case AttrSunrise:
			if rec.Sunrise != nil {
				clause = fmt.Sprintf("the sunrise %s at %s local time", v, clockTime(*rec.Sunrise))
			}
		case AttrSunset:
			if rec.Sunset != nil {
				clause = fmt.Sprintf("the sunset %s at %s local time", v, clockTime(*rec.Sunset))
			}
		case AttrMoonPhase:
			if rec.MoonPhase != nil {
				clause = fmt.Sprintf("the moon phase %s a %s", v, *rec.MoonPhase)
			}
		}
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}

	if len(clauses) == 0 {
		return NoDataResponse
	}
	return fmt.Sprintf("%s in %s, %s.", dayPhrase(target, reference), city, strings.Join(clauses, ". "))
}

// temperatureClause describes whichever of high and low are known.
func temperatureClause(rec models.Record, v string) string {
	var parts []string
	if rec.High != nil {
		parts = append(parts, fmt.Sprintf("the high %s %d", v, *rec.High))
	}
	if rec.Low != nil {
		parts = append(parts, fmt.Sprintf("the low %s %d", v, *rec.Low))
	}
	return strings.Join(parts, " and ")
}

func precipitationClause(rec models.Record, v string, single, upcoming bool) string {
	if rec.PrecipitationType == nil {
		return ""
	}
	chance := -1
	if rec.PrecipitationChance != nil {
		chance = *rec.PrecipitationChance
	}
	if !single && chance <= 0 {
		return ""
	}
	if chance == 0 {
		return fmt.Sprintf("there %s no rain", v)
	}

	kind := string(*rec.PrecipitationType)
	if upcoming {
		if chance < 0 {
			return ""
		}
		clause := fmt.Sprintf("there %s a %d percent chance of %s", v, chance, kind)
		if rec.PrecipitationAmount != nil {
			clause += fmt.Sprintf(" (%s inches)", inches(*rec.PrecipitationAmount))
		}
		return clause
	}
	if rec.PrecipitationAmount == nil {
		return ""
	}
	return fmt.Sprintf("there were %s inches of %s", inches(*rec.PrecipitationAmount), kind)
}

// inches prints the shortest exact form, keeping one decimal for whole
// amounts: 2.0, 0.02, 1.25.
func inches(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// clockTime prints t on a 12-hour clock without a leading zero, e.g. "7:30 AM".
func clockTime(t civil.Time) string {
	return time.Date(2000, time.January, 1, t.Hour, t.Minute, 0, 0, time.UTC).Format("3:04 PM")
}
