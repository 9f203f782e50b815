// Package xlsx пишет и читает рабочие книги Excel через excelize.
package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MimeType тип содержимого для xlsx
const MimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const defaultSheet = "Sheet1"

// Sheet один лист: заголовки в первой строке, далее данные
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// Write записывает листы в w. Пустой список дает книгу с одним пустым листом.
func Write(w io.Writer, sheets ...Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("ошибка создания стиля заголовка: %w", err)
	}

	for i, sheet := range sheets {
		name := sheet.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("ошибка переименования листа %s: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("ошибка создания листа %s: %w", name, err)
		}

		if err := writeSheet(f, name, sheet, headerStyle); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("ошибка записи Excel файла: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, sheet Sheet, headerStyle int) error {
	if len(sheet.Headers) > 0 {
		if err := f.SetSheetRow(name, "A1", &sheet.Headers); err != nil {
			return fmt.Errorf("ошибка записи заголовков листа %s: %w", name, err)
		}
		last, _ := excelize.CoordinatesToCellName(len(sheet.Headers), 1)
		if err := f.SetCellStyle(name, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("ошибка применения стиля листа %s: %w", name, err)
		}
		lastCol, _ := excelize.ColumnNumberToName(len(sheet.Headers))
		if err := f.SetColWidth(name, "A", lastCol, 22); err != nil {
			return fmt.Errorf("ошибка установки ширины колонок листа %s: %w", name, err)
		}
	}

	for i, row := range sheet.Rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := row
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("ошибка записи строки %d листа %s: %w", i+1, name, err)
		}
	}
	return nil
}

// Read читает все листы книги. Первая непустая строка листа считается
// заголовком; пустые ячейки становятся nil, короткие строки дополняются.
// Листы без заголовка пропускаются.
func Read(r io.Reader) ([]Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия Excel файла: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения листа %s: %w", name, err)
		}

		start := 0
		for start < len(rows) && blank(rows[start]) {
			start++
		}
		if start == len(rows) {
			continue
		}

		headers := make([]string, 0, len(rows[start]))
		for _, h := range rows[start] {
			headers = append(headers, strings.TrimSpace(h))
		}
		for len(headers) > 0 && headers[len(headers)-1] == "" {
			headers = headers[:len(headers)-1]
		}

		sheet := Sheet{Name: name, Headers: headers}
		for _, raw := range rows[start+1:] {
			if blank(raw) {
				continue
			}
			row := make([]any, len(headers))
			for i := range headers {
				if i < len(raw) && raw[i] != "" {
					row[i] = raw[i]
				}
			}
			sheet.Rows = append(sheet.Rows, row)
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
