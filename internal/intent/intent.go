package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrUnsupportedIntent is returned by Handle when called with an intent the handler
// reported it cannot handle.
var ErrUnsupportedIntent = errors.New("unsupported intent")

// KindTimeInterval marks a slot value carrying a from/to range instead of a scalar.
const KindTimeInterval = "TimeInterval"

// Handler answers one family of intents.
// Handle is only valid after CanHandle returned true for the same Parsed value.
type Handler interface {
	CanHandle(p Parsed) bool
	Handle(ctx context.Context, p Parsed) (string, error)
}

// Parsed is the structured result of running an utterance through the NLU engine.
type Parsed struct {
	Input  string `json:"input"`
	Intent Intent `json:"intent"`
	Slots  []Slot `json:"slots"`
}

type Intent struct {
	Name        string  `json:"intentName"`
	Probability float64 `json:"probability"`
}

type Slot struct {
	Name     string    `json:"slotName"`
	RawValue string    `json:"rawValue,omitempty"`
	Entity   string    `json:"entity,omitempty"`
	Value    SlotValue `json:"value"`
}

// SlotValue is either a scalar (Value) or a time interval (From/To).
type SlotValue struct {
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// UnmarshalJSON accepts scalar values of any JSON type and stores them as strings,
// so a numeric slot such as {"value": 3} reads back as "3".
func (v *SlotValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind  string          `json:"kind"`
		Value json.RawMessage `json:"value"`
		From  json.RawMessage `json:"from"`
		To    json.RawMessage `json:"to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Kind = raw.Kind
	var err error
	if v.Value, err = scalarString(raw.Value); err != nil {
		return err
	}
	if v.From, err = scalarString(raw.From); err != nil {
		return err
	}
	if v.To, err = scalarString(raw.To); err != nil {
		return err
	}
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case '{', '[':
		// Nested values (e.g. snips amount-of-money objects) keep their JSON form.
		return string(raw), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

// Name returns the intent name, or "" when the engine matched nothing.
func (p Parsed) Name() string {
	return p.Intent.Name
}

// Confidence returns the engine's probability for the matched intent.
func (p Parsed) Confidence() float64 {
	return p.Intent.Probability
}

// SlotValue returns the value of the first slot called name. Time intervals yield their
// lower bound. def is returned when no slot matches.
func (p Parsed) SlotValue(name, def string) string {
	for _, s := range p.Slots {
		if s.Name != name {
			continue
		}
		if s.Value.Kind == KindTimeInterval {
			return s.Value.From
		}
		return s.Value.Value
	}
	return def
}
