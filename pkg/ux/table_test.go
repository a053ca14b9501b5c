// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"
)

// =============================================================================
// Table Tests
// =============================================================================

func TestTable_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := Table(
		[]string{"NAME", "STATE", "FAILURES"},
		[][]string{
			{"agent-7", "open", "5"},
			{"agent-9", "closed", "0"},
		},
	)

	expected := "NAME\tSTATE\tFAILURES\n" +
		"agent-7\topen\t5\n" +
		"agent-9\tclosed\t0\n"
	if output != expected {
		t.Errorf("expected %q, got %q", expected, output)
	}
}

func TestTable_MachineMode_RaggedRows(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := Table(
		[]string{"A", "B", "C"},
		[][]string{
			{"1"},
			{"1", "2", "3", "4"},
		},
	)

	// Short rows padded, long rows truncated to the header width
	expected := "A\tB\tC\n" +
		"1\t\t\n" +
		"1\t2\t3\n"
	if output != expected {
		t.Errorf("expected %q, got %q", expected, output)
	}
}

func TestTable_EmptyHeaders(t *testing.T) {
	output := Table(nil, [][]string{{"orphan"}})
	if output != "" {
		t.Errorf("expected empty output for empty headers, got %q", output)
	}
}

func TestTable_StyledContainsCells(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := Table(
		[]string{"RUN", "STATE"},
		[][]string{
			{"run-123", "COMPLETE"},
			{"run-456", "DENIED"},
		},
	)

	for _, want := range []string{"RUN", "STATE", "run-123", "COMPLETE", "run-456", "DENIED"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got %q", want, output)
		}
	}
	if !strings.Contains(output, "─") {
		t.Error("expected a separator line under the header")
	}
}

func TestTable_StyledNoRows(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := Table([]string{"NAME"}, nil)
	if !strings.Contains(output, "NAME") {
		t.Errorf("expected header even with no rows, got %q", output)
	}
	// Header plus separator
	if got := strings.Count(output, "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d in %q", got, output)
	}
}

// =============================================================================
// KeyValues Tests
// =============================================================================

func TestKeyValues_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := KeyValues([][2]string{
		{"request", "req-123"},
		{"blast radius", "single_pod"},
	})

	expected := "REQUEST: req-123\n" +
		"BLAST_RADIUS: single_pod\n"
	if output != expected {
		t.Errorf("expected %q, got %q", expected, output)
	}
}

func TestKeyValues_Empty(t *testing.T) {
	output := KeyValues(nil)
	if output != "" {
		t.Errorf("expected empty output for no pairs, got %q", output)
	}
}

func TestKeyValues_StyledContainsPairs(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := KeyValues([][2]string{
		{"resource", "default/api-server"},
		{"risk", "HIGH"},
	})

	for _, want := range []string{"resource", "default/api-server", "risk", "HIGH"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got %q", want, output)
		}
	}
	if got := strings.Count(output, "\n"); got != 2 {
		t.Errorf("expected one line per pair, got %d lines in %q", got, output)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestFitRow(t *testing.T) {
	tests := []struct {
		name string
		row  []string
		n    int
		want []string
	}{
		{"exact", []string{"a", "b"}, 2, []string{"a", "b"}},
		{"short", []string{"a"}, 3, []string{"a", "", ""}},
		{"long", []string{"a", "b", "c"}, 2, []string{"a", "b"}},
		{"empty", nil, 2, []string{"", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitRow(tt.row, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d cells, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("cell %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestPadCell(t *testing.T) {
	if got := padCell("ab", 5); got != "ab   " {
		t.Errorf("expected 'ab   ', got %q", got)
	}
	if got := padCell("abcde", 3); got != "abcde" {
		t.Errorf("expected cell unchanged when wider than target, got %q", got)
	}
	if got := padCell("", 2); got != "  " {
		t.Errorf("expected two spaces, got %q", got)
	}
}
