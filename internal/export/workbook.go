// Package export: выгрузки посещаемости и поездок в xlsx.
package export

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

type SheetSpec struct {
	Title  string
	Header []string
	Rows   [][]string
}

// Build собирает книгу: жирная шапка, автофильтр по первой строке, ширина по содержимому.
func Build(sheets []SheetSpec) (*excelize.File, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for i, s := range sheets {
		name := sheetName(s.Title)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("new sheet: %w", err)
		}

		for col, h := range s.Header {
			cell := fmt.Sprintf("%s1", colName(col+1))
			if err := f.SetCellStr(name, cell, h); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		if len(s.Header) > 0 {
			end := colName(len(s.Header)) + "1"
			_ = f.SetCellStyle(name, "A1", end, bold)
			_ = f.AutoFilter(name, "A1:"+end, nil)
		}

		for r, row := range s.Rows {
			for c, val := range row {
				cell := fmt.Sprintf("%s%d", colName(c+1), r+2)
				if err := f.SetCellStr(name, cell, val); err != nil {
					return nil, fmt.Errorf("set cell %s: %w", cell, err)
				}
			}
		}
		fitColumns(f, name, s)
	}
	return f, nil
}

// Write: книга целиком в w (тело HTTP-ответа).
func Write(w io.Writer, sheets []SheetSpec) error {
	f, err := Build(sheets)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Write(w)
}

// ширина: по самой длинной строке среди шапки и первых 50 строк, в пределах 10..60
func fitColumns(f *excelize.File, sheet string, s SheetSpec) {
	for c := 1; c <= len(s.Header); c++ {
		w := float64(visualLen(s.Header[c-1])) + 1.5
		for r := 0; r < len(s.Rows) && r < 50; r++ {
			if c-1 >= len(s.Rows[r]) {
				continue
			}
			if l := float64(visualLen(s.Rows[r][c-1])) * 1.1; l > w {
				w = l
			}
		}
		if w < 10 {
			w = 10
		}
		if w > 60 {
			w = 60
		}
		_ = f.SetColWidth(sheet, colName(c), colName(c), w)
	}
}

func colName(n int) string {
	// 1 -> A; 27 -> AA
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+(n%26))) + s
		n /= 26
	}
	return s
}

func visualLen(s string) int {
	n := 0
	for _, r := range s {
		if r == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n
}

var invalidSheetRe = regexp.MustCompile(`[\\/:*?\[\]]+`)

// имя листа в Excel: без []:*?/\ и не длиннее 31 символа
func sheetName(s string) string {
	s = strings.TrimSpace(invalidSheetRe.ReplaceAllString(s, "_"))
	if s == "" {
		s = "Sheet"
	}
	if r := []rune(s); len(r) > 31 {
		s = string(r[:31])
	}
	return s
}

var invalidFileRe = regexp.MustCompile(`[\\/:*?"<>|]+`)

func sanitizeFileName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	return invalidFileRe.ReplaceAllString(s, "_")
}
