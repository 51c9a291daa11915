//----------------------------------------------------------------------
// This file is part of panelnet.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// panelnet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// panelnet is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package panelnet

import (
	"io"
	"strings"
)

// Display renders text on the panel and returns when the frame is out.
type Display interface {
	Render(text string) error
}

// TextDisplay renders into a character grid written to an io.Writer
// (serial console, terminal). A 64x32 panel with a 4x6 font holds
// 16 columns and 5 rows.
type TextDisplay struct {
	w          io.Writer
	cols, rows int
}

// NewTextDisplay with the given grid size (at least one cell).
func NewTextDisplay(w io.Writer, cols, rows int) *TextDisplay {
	return &TextDisplay{w: w, cols: max(cols, 1), rows: max(rows, 1)}
}

// Render wraps text into the grid; overflowing rows are dropped.
func (d *TextDisplay) Render(text string) error {
	_, err := io.WriteString(d.w, strings.Join(d.Frame(text), "\n")+"\n")
	return err
}

// Frame returns the grid rows for text.
func (d *TextDisplay) Frame(text string) (rows []string) {
	cols, maxRows := max(d.cols, 1), max(d.rows, 1)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		r := []rune(strings.TrimRight(line, "\r"))
		for len(r) > cols {
			rows = append(rows, string(r[:cols]))
			r = r[cols:]
		}
		rows = append(rows, string(r))
	}
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	return
}
