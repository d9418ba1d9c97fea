package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestWalkerCommand(t *testing.T) {
	out, err := execute(t, "", "walker", "--total", "6", "--planes", "3", "--phasing", "1", "--inc", "60")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var design []struct {
		InclinationDeg float64 `json:"inclination_deg"`
		RAANDeg        float64 `json:"raan_deg"`
	}
	if err := json.Unmarshal([]byte(out), &design); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(design) != 6 {
		t.Fatalf("got %d satellites, want 6", len(design))
	}
	if design[0].InclinationDeg != 60 || design[2].RAANDeg != 120 {
		t.Errorf("unexpected design: %+v", design)
	}

	if _, err := execute(t, "", "walker", "--planes", "0"); err == nil {
		t.Error("expected error for zero planes")
	}
}

func TestResonancesCommand(t *testing.T) {
	out, err := execute(t, "", "resonances",
		"--target", "42164", "--tolerance", "1",
		"--min-rotations", "1", "--max-rotations", "3",
		"--min-orbits", "1", "--max-orbits", "3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var candidates []struct {
		J int `json:"j"`
		K int `json:"k"`
	}
	if err := json.Unmarshal([]byte(out), &candidates); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 1:1, 2:2 and 3:3", len(candidates))
	}
}

func TestPropagateCommand(t *testing.T) {
	out, err := execute(t, "", "propagate", "--a", "7000", "--samples", "10", "--orbits", "2",
		"--epoch", "2025-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res struct {
		Times []float64 `json:"times"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(res.Times) != 20 {
		t.Errorf("got %d samples, want 20", len(res.Times))
	}

	if _, err := execute(t, "", "propagate", "--resonance", "fifteen"); err == nil {
		t.Error("expected error for malformed --resonance")
	}
	if _, err := execute(t, "", "propagate", "--resonance", "", "--epoch", "yesterday"); err == nil {
		t.Error("expected error for malformed --epoch")
	}
}

func TestOverlayCommandRejectsEmptyInput(t *testing.T) {
	if _, err := execute(t, "nothing to see\n", "overlay", "--epoch", ""); err == nil {
		t.Error("expected error for input without TLE entries")
	}
}
