package weather

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Relation is how a target date sits relative to the reference ("today") date.
type Relation int

const (
	Absolute Relation = iota
	Today
	Tomorrow
	ThisWeek  // (reference+1, reference+7)
	NextWeek  // [reference+7, reference+14)
	Yesterday
	LastWeek // (reference-7, reference-1)
)

func (r Relation) String() string {
	switch r {
	case Today:
		return "today"
	case Tomorrow:
		return "tomorrow"
	case ThisWeek:
		return "this_week"
	case NextWeek:
		return "next_week"
	case Yesterday:
		return "yesterday"
	case LastWeek:
		return "last_week"
	default:
		return "absolute"
	}
}

// Classify places target in exactly one Relation with respect to reference.
func Classify(target, reference civil.Date) Relation {
	d := target.DaysSince(reference)
	switch {
	case d == 0:
		return Today
	case d == 1:
		return Tomorrow
	case d > 1 && d < 7:
		return ThisWeek
	case d >= 7 && d < 14:
		return NextWeek
	case d == -1:
		return Yesterday
	case d > -7 && d < -1:
		return LastWeek
	default:
		return Absolute
	}
}

// dayPhrase is the sentence opener for target, e.g. "Tomorrow" or "Next Friday".
func dayPhrase(target, reference civil.Date) string {
	switch Classify(target, reference) {
	case Today:
		return "Today"
	case Tomorrow:
		return "Tomorrow"
	case ThisWeek:
		return "This " + weekday(target)
	case NextWeek:
		return "Next " + weekday(target)
	case Yesterday:
		return "Yesterday"
	case LastWeek:
		return "Last " + weekday(target)
	default:
		return fmt.Sprintf("On %s %d, %d", target.Month, target.Day, target.Year)
	}
}

// verb is the tense for target: present for today, future ahead of it, past before it.
func verb(target, reference civil.Date) string {
	switch {
	case target == reference:
		return "is"
	case target.After(reference):
		return "will be"
	default:
		return "was"
	}
}

func weekday(d civil.Date) string {
	return d.In(time.UTC).Weekday().String()
}
