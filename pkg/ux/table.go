// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders rows under a header with aligned columns.
//
// In machine mode the output is tab-separated with no alignment or
// styling, one row per line, suitable for cut/awk. Rows shorter than
// the header are padded with empty cells; longer rows are truncated to
// the header width.
func Table(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	if GetPersonality().Level == PersonalityMachine {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(fitRow(row, len(headers)), "\t"))
			b.WriteString("\n")
		}
		return b.String()
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range fitRow(row, len(headers)) {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder

	for i, h := range headers {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(Styles.Title.Render(padCell(h, widths[i])))
	}
	b.WriteString("\n")

	for i, w := range widths {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(Styles.Muted.Render(repeatChar('─', w)))
	}
	b.WriteString("\n")

	for _, row := range rows {
		for i, cell := range fitRow(row, len(headers)) {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(padCell(cell, widths[i]))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// KeyValues renders label/value pairs with aligned labels.
//
// In machine mode labels are upper-cased and emitted as "LABEL: value"
// lines for parsing.
func KeyValues(pairs [][2]string) string {
	if len(pairs) == 0 {
		return ""
	}

	if GetPersonality().Level == PersonalityMachine {
		var b strings.Builder
		for _, kv := range pairs {
			key := strings.ToUpper(strings.ReplaceAll(kv[0], " ", "_"))
			b.WriteString(fmt.Sprintf("%s: %s\n", key, kv[1]))
		}
		return b.String()
	}

	width := 0
	for _, kv := range pairs {
		if w := lipgloss.Width(kv[0]); w > width {
			width = w
		}
	}

	var b strings.Builder
	for _, kv := range pairs {
		b.WriteString(Styles.Muted.Render(padCell(kv[0], width)))
		b.WriteString("  ")
		b.WriteString(kv[1])
		b.WriteString("\n")
	}
	return b.String()
}

// fitRow pads or truncates a row to exactly n cells.
func fitRow(row []string, n int) []string {
	if len(row) == n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}

// padCell right-pads a cell to the target display width. Styled cells
// are measured with lipgloss so ANSI sequences do not skew alignment.
func padCell(cell string, width int) string {
	gap := width - lipgloss.Width(cell)
	if gap <= 0 {
		return cell
	}
	return cell + strings.Repeat(" ", gap)
}
