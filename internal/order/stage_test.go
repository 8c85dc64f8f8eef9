package order

import "testing"

func TestStageString(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageNone, "none"},
		{StageDraft, "draft"},
		{StageDeliverySet, "delivery_set"},
		{StageConfirmed, "confirmed"},
		{Stage(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("Stage(%d).String() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestParseStage(t *testing.T) {
	for _, stage := range []Stage{StageNone, StageDraft, StageDeliverySet, StageConfirmed} {
		got, err := ParseStage(stage.String())
		if err != nil {
			t.Fatalf("ParseStage(%q) error: %v", stage.String(), err)
		}
		if got != stage {
			t.Errorf("ParseStage(%q) = %v, want %v", stage.String(), got, stage)
		}
	}

	if got, err := ParseStage(""); err != nil || got != StageNone {
		t.Errorf("ParseStage(\"\") = %v, %v; want StageNone, nil", got, err)
	}

	if _, err := ParseStage("shipped"); err == nil {
		t.Error("ParseStage with unknown name should error")
	}
}

func TestStateFittingMonotonic(t *testing.T) {
	s := NewState()
	if s.FittingBooked() {
		t.Fatal("fresh state should have no fitting booked")
	}

	s.MarkFittingBooked()
	if !s.FittingBooked() {
		t.Fatal("MarkFittingBooked did not stick")
	}
}

func TestStateSnapshot(t *testing.T) {
	s := NewState()
	s.SetStage(StageDeliverySet)
	s.MarkFittingBooked()

	stage, booked := s.Snapshot()
	if stage != StageDeliverySet || !booked {
		t.Errorf("Snapshot() = (%v, %v), want (delivery_set, true)", stage, booked)
	}
}
