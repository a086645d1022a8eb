package model

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status]map[Status]bool{
		StatusScheduled:  {StatusConfirmed: true, StatusCheckedIn: true, StatusCancelled: true, StatusNoShow: true},
		StatusConfirmed:  {StatusCheckedIn: true, StatusCancelled: true, StatusNoShow: true},
		StatusCheckedIn:  {StatusInProgress: true, StatusCancelled: true},
		StatusInProgress: {StatusCompleted: true},
		StatusCompleted:  {},
		StatusCancelled:  {},
		StatusNoShow:     {},
	}

	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := allowed[from][to]
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusCancelled: true,
		StatusNoShow:    true,
	}
	for _, s := range Statuses() {
		if got := s.Terminal(); got != terminal[s] {
			t.Fatalf("%s terminal: got %v, want %v", s, got, terminal[s])
		}
	}
	if Status("bogus").Terminal() {
		t.Fatalf("unknown status must not be terminal")
	}
}

func TestStatusBlocks(t *testing.T) {
	for _, s := range Statuses() {
		want := s != StatusCancelled && s != StatusNoShow
		if got := s.Blocks(); got != want {
			t.Fatalf("%s blocks: got %v, want %v", s, got, want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("checked_in"); err != nil || s != StatusCheckedIn {
		t.Fatalf("ParseStatus(checked_in) = %q, %v", s, err)
	}
	if _, err := ParseStatus("pending"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestTemplateValidate(t *testing.T) {
	valid := AvailabilityTemplate{
		PractitionerID:   "prac-1",
		Weekday:          1,
		StartMinute:      9 * 60,
		EndMinute:        13 * 60,
		SlotDurationMins: 30,
		MaxConcurrent:    1,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid template rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AvailabilityTemplate)
	}{
		{"missing practitioner", func(tpl *AvailabilityTemplate) { tpl.PractitionerID = "" }},
		{"weekday out of range", func(tpl *AvailabilityTemplate) { tpl.Weekday = 7 }},
		{"negative start", func(tpl *AvailabilityTemplate) { tpl.StartMinute = -1 }},
		{"end past midnight", func(tpl *AvailabilityTemplate) { tpl.EndMinute = 1441 }},
		{"start after end", func(tpl *AvailabilityTemplate) { tpl.StartMinute = 14 * 60 }},
		{"zero slot duration", func(tpl *AvailabilityTemplate) { tpl.SlotDurationMins = 0 }},
		{"zero concurrency", func(tpl *AvailabilityTemplate) { tpl.MaxConcurrent = 0 }},
	}
	for _, tc := range cases {
		tpl := valid
		tc.mutate(&tpl)
		if err := tpl.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
