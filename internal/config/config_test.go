package config

import "testing"

func TestDefaultsSignalsDoNotCollide(t *testing.T) {
	d := Defaults()
	if d.TimeSliceSignal == d.DeschedSignal {
		t.Fatalf("TimeSliceSignal and DeschedSignal both = %d, must be distinct", d.TimeSliceSignal)
	}
}

func TestDefaultsRunawayWatchdogIsPositive(t *testing.T) {
	if d := Defaults(); d.RunawayWatchdog <= 0 {
		t.Fatalf("RunawayWatchdog = %v, want > 0", d.RunawayWatchdog)
	}
}

func TestDefaultsAuxCountersOffByDefault(t *testing.T) {
	if d := Defaults(); d.TrackAuxCounters {
		t.Fatal("TrackAuxCounters = true by default, want false (spec Open Question resolution)")
	}
}
