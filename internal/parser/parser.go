// Пакет parser — разбор табличных файлов (CSV, XLSX) в единую модель строк.
// Первая строка файла считается заголовком и задает имена колонок, порядок
// строк источника сохраняется.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/maynagashev/datakeeper/internal/models"
)

// Поддерживаемые MIME-типы.
const (
	MimeCSV  = "text/csv"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Кастомные ошибки парсера.
var (
	ErrUnsupportedMediaType = errors.New("неподдерживаемый тип файла")
	ErrNoSheets             = errors.New("в книге нет ни одного листа")
)

// Supported сообщает, поддерживается ли MIME-тип.
// Проверяется при загрузке файла (до записи байтов в хранилище)
// и повторно перед обработкой.
func Supported(mimeType string) bool {
	return mimeType == MimeCSV || mimeType == MimeXLSX
}

// Parse разбирает байты файла указанного MIME-типа в последовательность строк.
// Для неподдерживаемого типа возвращает ErrUnsupportedMediaType.
func Parse(data []byte, mimeType string) ([]models.Row, error) {
	switch mimeType {
	case MimeCSV:
		return parseCSV(data)
	case MimeXLSX:
		return parseXLSX(data)
	default:
		log.Printf("[Parser] Запрошен разбор неподдерживаемого типа '%s'", mimeType)
		return nil, fmt.Errorf("тип '%s': %w", mimeType, ErrUnsupportedMediaType)
	}
}

// parseCSV разбирает CSV: первая запись — заголовок, пустые строки
// пропускаются (encoding/csv пропускает их сам). Значения всегда строковые.
func parseCSV(data []byte) ([]models.Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	// Допускаем строки с разным числом полей, недостающие ячейки
	// считаем пустыми
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []models.Row{}, nil // Пустой файл — ноль строк
		}
		return nil, fmt.Errorf("ошибка чтения заголовка CSV: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := make([]models.Row, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки CSV: %w", err)
		}

		row := make(models.Row, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(record) {
				row[col] = models.StringValue(record[i])
			} else {
				row[col] = models.StringValue("")
			}
		}
		rows = append(rows, row)
	}

	log.Printf("[Parser] CSV разобран: %d колонок, %d строк", len(header), len(rows))
	return rows, nil
}

// parseXLSX разбирает первый лист книги XLSX.
// Типы ячеек сохраняются, насколько их раскрывает формат: числа, булевы
// значения и даты становятся соответствующими значениями, остальное — строки.
func parseXLSX(data []byte) ([]models.Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия книги XLSX: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Printf("[Parser] Ошибка закрытия книги XLSX: %v", closeErr)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheets
	}
	// Берется только первый лист
	sheet := sheets[0]

	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения листа '%s': %w", sheet, err)
	}
	if len(cells) == 0 {
		return []models.Row{}, nil
	}

	header := cells[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := make([]models.Row, 0, len(cells)-1)
	for rowIdx := 1; rowIdx < len(cells); rowIdx++ {
		record := cells[rowIdx]
		if isEmptyRecord(record) {
			continue
		}

		row := make(models.Row, len(header))
		for colIdx, col := range header {
			if col == "" {
				continue
			}
			var raw string
			if colIdx < len(record) {
				raw = record[colIdx]
			}
			row[col] = cellValue(f, sheet, colIdx, rowIdx, raw)
		}
		rows = append(rows, row)
	}

	log.Printf("[Parser] XLSX разобран: лист '%s', %d колонок, %d строк", sheet, len(header), len(rows))
	return rows, nil
}

// isEmptyRecord сообщает, что все ячейки строки пустые.
func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// cellValue переводит ячейку XLSX в значение с сохранением типа.
func cellValue(f *excelize.File, sheet string, colIdx, rowIdx int, raw string) models.CellValue {
	axis, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
	if err != nil {
		return models.StringValue(raw)
	}

	cellType, err := f.GetCellType(sheet, axis)
	if err != nil {
		return models.StringValue(raw)
	}

	switch cellType {
	case excelize.CellTypeBool:
		return models.BoolValue(strings.EqualFold(raw, "TRUE"))
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		// Числовые ячейки с датным форматом excelize отдает уже
		// отформатированной датой, ее распознает проверка ниже
		if t, ok := parseExcelTime(raw); ok {
			return models.TimeValue(t)
		}
		if num, err := strconv.ParseFloat(raw, 64); err == nil {
			return models.NumberValue(num)
		}
		return models.StringValue(raw)
	case excelize.CellTypeDate:
		if t, ok := parseExcelTime(raw); ok {
			return models.TimeValue(t)
		}
		return models.StringValue(raw)
	default:
		return models.StringValue(raw)
	}
}

// Форматы дат, которые excelize выдает для ячеек с датными стилями.
var excelTimeLayouts = []string{
	"01-02-06",
	"1/2/06 15:04",
	"01/02/2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01-02-06 15:04",
	time.RFC3339,
}

// parseExcelTime пытается распознать отформатированную дату из ячейки.
func parseExcelTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range excelTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
