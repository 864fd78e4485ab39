package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	tablePadding = 2
	// maxCellWidth truncates long cells such as message previews.
	maxCellWidth = 48
)

// writeTable prints rows under headers, aligning columns by display width so
// emoji avatars and wide characters line up.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	colCount := len(headers)
	for _, row := range rows {
		colCount = max(colCount, len(row))
	}
	if colCount == 0 {
		return nil
	}

	cells := make([][]string, 0, len(rows)+1)
	if len(headers) > 0 {
		cells = append(cells, headers)
	}
	for _, row := range rows {
		fitted := make([]string, len(row))
		for i, cell := range row {
			fitted[i] = fitCell(cell)
		}
		cells = append(cells, fitted)
	}

	widths := make([]int, colCount)
	for _, row := range cells {
		for idx, cell := range row {
			widths[idx] = max(widths[idx], runewidth.StringWidth(stripANSI(cell)))
		}
	}

	writer := bufio.NewWriter(out)
	for _, row := range cells {
		var line strings.Builder
		for idx := 0; idx < colCount; idx++ {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			line.WriteString(cell)
			if idx < colCount-1 {
				padding := max(widths[idx]-runewidth.StringWidth(stripANSI(cell)), 0)
				line.WriteString(strings.Repeat(" ", padding+tablePadding))
			}
		}
		if _, err := writer.WriteString(strings.TrimRight(line.String(), " ") + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// fitCell flattens newlines and truncates to maxCellWidth columns.
func fitCell(cell string) string {
	cell = strings.Join(strings.Fields(cell), " ")
	if runewidth.StringWidth(cell) <= maxCellWidth {
		return cell
	}
	return runewidth.Truncate(cell, maxCellWidth, "…")
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		i += 2
		for i < len(value) {
			ch := value[i]
			if ch >= 0x40 && ch <= 0x7e {
				break
			}
			i++
		}
	}
	return b.String()
}
