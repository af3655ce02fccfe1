package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// parseSpreadsheet flattens every sheet of a workbook into CSV text. Each
// sheet is introduced by a "Sheet: <name>" line and sheets are separated by
// a blank line. Empty sheets still emit their header line.
func parseSpreadsheet(data []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	parts := make([]string, 0, len(sheets))
	for _, name := range sheets {
		rows, err := book.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", name, err)
		}

		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.WriteAll(rows); err != nil {
			return "", fmt.Errorf("encode sheet %q: %w", name, err)
		}
		parts = append(parts, "Sheet: "+name+"\n"+strings.TrimRight(buf.String(), "\n"))
	}
	return strings.Join(parts, "\n\n"), nil
}
