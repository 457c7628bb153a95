package intent

import (
	"encoding/json"
	"testing"
)

func TestParsed_SlotValue(t *testing.T) {
	p := Parsed{
		Intent: Intent{Name: "query_weather", Probability: 0.9},
		Slots: []Slot{
			{Name: "city", Value: SlotValue{Kind: "Custom", Value: "San Francisco"}},
			{Name: "time", Value: SlotValue{Kind: KindTimeInterval, From: "2023-02-11 00:00:00 -08:00", To: "2023-02-12 00:00:00 -08:00"}},
			{Name: "city", Value: SlotValue{Value: "Oakland"}},
		},
	}

	tests := []struct {
		name string
		slot string
		def  string
		want string
	}{
		{"scalar", "city", "x", "San Francisco"},
		{"interval lower bound", "time", "", "2023-02-11 00:00:00 -08:00"},
		{"missing returns default", "attribute", "temperature", "temperature"},
		{"missing returns empty default", "attribute", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.SlotValue(tt.slot, tt.def); got != tt.want {
				t.Errorf("SlotValue(%q) = %q, want %q", tt.slot, got, tt.want)
			}
		})
	}
}

func TestParsed_UnmarshalSnipsResult(t *testing.T) {
	raw := `{
		"input": "turn it up by 3",
		"intent": {"intentName": "raise_music_volume", "probability": 0.71},
		"slots": [
			{"slotName": "amount", "rawValue": "3", "entity": "snips/number", "value": {"kind": "Number", "value": 3}},
			{"slotName": "time", "value": {"kind": "TimeInterval", "from": "2023-02-11 00:00:00 -08:00", "to": null}},
			{"slotName": "flag", "value": {"kind": "Custom", "value": true}}
		]
	}`

	var p Parsed
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Name() != "raise_music_volume" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.Confidence() != 0.71 {
		t.Errorf("Confidence() = %v", p.Confidence())
	}
	if got := p.SlotValue("amount", ""); got != "3" {
		t.Errorf("amount = %q, want 3", got)
	}
	if got := p.SlotValue("time", ""); got != "2023-02-11 00:00:00 -08:00" {
		t.Errorf("time = %q", got)
	}
	if got := p.SlotValue("flag", ""); got != "true" {
		t.Errorf("flag = %q, want true", got)
	}
	if p.Slots[1].Value.To != "" {
		t.Errorf("null to bound = %q, want empty", p.Slots[1].Value.To)
	}
}
