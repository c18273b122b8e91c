package state

import (
	"testing"
)

func intp(n int) *int { return &n }

func TestStore_ApplySnapshotDerivation(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		level *int
		want  Derived
	}{
		{
			name:  "dimmer at 60",
			value: Number(60),
			want:  Derived{Known: true, On: true, Level: 60},
		},
		{
			name:  "switch off",
			value: Number(0),
			want:  Derived{Known: true, On: false, Level: 0},
		},
		{
			name:  "string true with no level settles level zero",
			value: String("true"),
			want:  Derived{Known: true, On: true, Level: 0},
		},
		{
			name:  "bool on with explicit level",
			value: Bool(true),
			level: intp(35),
			want:  Derived{Known: true, On: true, Level: 35},
		},
		{
			name:  "value above range clamps",
			value: Number(255),
			want:  Derived{Known: true, On: true, Level: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			got, changed := s.ApplySnapshot("Room1_Light1", tt.value, tt.level)
			if got != tt.want {
				t.Errorf("ApplySnapshot() = %+v, want %+v", got, tt.want)
			}
			if tt.want.Known && !changed {
				t.Error("first interpretable observation should report a change")
			}
		})
	}
}

func TestStore_LastOnLevelSurvivesOff(t *testing.T) {
	s := NewStore()

	s.ApplySnapshot("Room1_Light1", Number(60), nil)
	s.ApplyChange("Room1_Light1", Number(0), nil)

	got, _ := s.Get("Room1_Light1")
	if got.On || got.Level != 0 {
		t.Fatalf("after off: %+v", got)
	}

	raw, _ := s.Raw("Room1_Light1")
	if raw.LastOnLevel != 60 {
		t.Fatalf("LastOnLevel = %d, want 60 after off", raw.LastOnLevel)
	}

	// The optimistic on restores the remembered brightness; a bare
	// hub-side "true" does not (the hub sends its own level change).
	got, changed := s.SetOn("Room1_Light1", true)
	if !changed {
		t.Error("on after off should report a change")
	}
	if !got.On || got.Level != 60 {
		t.Errorf("after on: %+v, want On at level 60", got)
	}
}

func TestStore_BoolTrueChangeKeepsStoredLevel(t *testing.T) {
	s := NewStore()

	// The hub zeroed the level explicitly; a later bool-true value must
	// not resurrect brightness on its own.
	s.ApplySnapshot("Room1_Light1", Number(30), nil)
	s.ApplyChange("Room1_Light1", Absent(), intp(0))

	got, _ := s.ApplyChange("Room1_Light1", Bool(true), nil)
	if !got.On || got.Level != 0 {
		t.Errorf("bool true after level 0: %+v, want On at level 0", got)
	}

	// With a positive stored level the same change reports it.
	s.ApplyChange("Room1_Light1", Absent(), intp(30))
	got, _ = s.ApplyChange("Room1_Light1", Bool(true), nil)
	if !got.On || got.Level != 30 {
		t.Errorf("bool true after level 30: %+v, want On at level 30", got)
	}
}

func TestStore_NumericValueMirrorsIntoLevel(t *testing.T) {
	s := NewStore()

	s.ApplySnapshot("Room1_Light1", Number(30), nil)
	s.ApplyChange("Room1_Light1", Number(60), nil)

	raw, _ := s.Raw("Room1_Light1")
	if raw.Level != 60 || !raw.LevelSet {
		t.Fatalf("Level = %d set=%v, want 60 after numeric value", raw.Level, raw.LevelSet)
	}

	// The mirrored level is what a later non-numeric value reports.
	got, _ := s.ApplyChange("Room1_Light1", String("true"), nil)
	if got.Level != 60 {
		t.Errorf("level after string true = %d, want 60", got.Level)
	}
}

func TestStore_ChangeWithOnlyLevel(t *testing.T) {
	s := NewStore()

	s.ApplySnapshot("Room1_Light1", Number(40), nil)

	got, changed := s.ApplyChange("Room1_Light1", Absent(), intp(80))
	if !changed {
		t.Error("level change should report a change")
	}
	if !got.On || got.Level != 80 {
		t.Errorf("after level-only change: %+v, want On at 80", got)
	}
}

func TestStore_LevelZeroDoesNotClearLastOnLevel(t *testing.T) {
	s := NewStore()

	s.ApplySnapshot("Room1_Light1", Number(70), nil)
	s.ApplyChange("Room1_Light1", Number(0), intp(0))

	raw, ok := s.Raw("Room1_Light1")
	if !ok {
		t.Fatal("Raw() missing tracked key")
	}
	if raw.LastOnLevel != 70 {
		t.Errorf("LastOnLevel = %d, want 70 after off", raw.LastOnLevel)
	}
}

func TestStore_UnchangedObservationReportsNoChange(t *testing.T) {
	s := NewStore()

	s.ApplySnapshot("Room1_Light1", Number(60), nil)

	if _, changed := s.ApplyChange("Room1_Light1", Number(60), nil); changed {
		t.Error("identical observation should not report a change")
	}
}

func TestStore_UninterpretableValueWithLevel(t *testing.T) {
	s := NewStore()

	got, _ := s.ApplySnapshot("Room1_Light1", String("Unknown"), intp(45))
	if !got.Known {
		t.Error("explicit level should make the state known")
	}
	if !got.On || got.Level != 45 {
		t.Errorf("derived = %+v, want On at 45", got)
	}
}

func TestStore_Optimistic(t *testing.T) {
	s := NewStore()

	s.ApplySnapshot("Room1_Light1", Number(60), nil)
	s.ApplyChange("Room1_Light1", Number(0), nil)

	got, changed := s.SetOn("Room1_Light1", true)
	if !changed || !got.On || got.Level != 60 {
		t.Errorf("SetOn(true) = %+v changed=%v, want On at 60", got, changed)
	}

	got, changed = s.SetLevel("Room1_Light1", 25)
	if !changed || !got.On || got.Level != 25 {
		t.Errorf("SetLevel(25) = %+v changed=%v, want On at 25", got, changed)
	}

	got, changed = s.SetOn("Room1_Light1", false)
	if !changed || got.On || got.Level != 0 {
		t.Errorf("SetOn(false) = %+v changed=%v, want Off", got, changed)
	}
}

func TestStore_SetLevelClamps(t *testing.T) {
	s := NewStore()

	got, _ := s.SetLevel("Room1_Light1", 250)
	if got.Level != 100 {
		t.Errorf("SetLevel(250) level = %d, want 100", got.Level)
	}
}

func TestStore_TrackAndGet(t *testing.T) {
	s := NewStore()

	if _, ok := s.Get("Room1_Light1"); ok {
		t.Error("Get() before Track should miss")
	}

	s.Track("Room1_Light1")
	got, ok := s.Get("Room1_Light1")
	if !ok {
		t.Fatal("Get() after Track should hit")
	}
	if got.Known {
		t.Errorf("tracked-but-unobserved state should be unknown: %+v", got)
	}
}

func TestStore_All(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot("Room1_Light1", Number(60), nil)
	s.Track("Room2_Light1")

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() len = %d, want 2", len(all))
	}
	if !all["Room1_Light1"].On {
		t.Error("All() lost observed state")
	}
	if all["Room2_Light1"].Known {
		t.Error("All() invented state for unobserved key")
	}
}
