package validation

import (
	"errors"
	"strings"
	"unicode"
)

// Length bounds in runes.
const (
	MaxCityLen      = 100
	MaxUtteranceLen = 1000
)

var (
	// ErrCityEmpty is returned when a city is empty or whitespace-only after trim.
	ErrCityEmpty = errors.New("city is required")
	// ErrCityTooLong is returned when a city exceeds MaxCityLen runes.
	ErrCityTooLong = errors.New("city too long")
	// ErrCityInvalidChars is returned when a city contains disallowed characters.
	ErrCityInvalidChars = errors.New("city contains invalid characters")

	ErrUtteranceEmpty   = errors.New("utterance is required")
	ErrUtteranceTooLong = errors.New("utterance too long")
	ErrUtteranceControl = errors.New("utterance contains control characters")
)

// ValidateCity trims the input, enforces the length bound and restricts it to letters,
// digits, space, comma, hyphen, period and apostrophe ("St. John's", "Winston-Salem").
// Returns the trimmed city. Normalization for cache keys is left to the service layer.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > MaxCityLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ValidateUtterance trims one line of user input and rejects empty, oversized or
// control-character input before it reaches the NLU engine.
func ValidateUtterance(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrUtteranceEmpty
	}
	if len(r) > MaxUtteranceLen {
		return "", ErrUtteranceTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) && c != '\t' {
			return "", ErrUtteranceControl
		}
	}
	return s, nil
}
