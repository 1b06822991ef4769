// Пакет validator — проверка разобранных строк по схеме валидации.
// Валидатор чистый: без I/O и побочных эффектов, порядок сообщений об
// ошибках следует порядку колонок схемы.
package validator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/maynagashev/datakeeper/internal/models"
)

// Форматы, принимаемые проверкой типа date для строковых значений.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// Validate проверяет строку по схеме и возвращает список сообщений об
// ошибках (пустой список — строка валидна). Колонки, отсутствующие в схеме,
// не проверяются. Ошибки required и типа для одной колонки взаимоисключающие:
// пустое значение не проходит проверку типа, потому что не проверяется ею.
func Validate(row models.Row, schema models.Schema) []string {
	errs := make([]string, 0)

	for _, column := range schema.Columns() {
		rule, _ := schema.Rule(column)
		value, present := row[column]

		if rule.Required && (!present || value.IsFalsy()) {
			errs = append(errs, fmt.Sprintf("Field %s is required", column))
		}

		// Пустые значения не проверяются на тип, даже необязательные
		if !present || value.IsFalsy() || rule.Type == "" {
			continue
		}

		switch rule.Type {
		case models.RuleNumber:
			if !isNumber(value) {
				errs = append(errs, fmt.Sprintf("Field %s must be a number", column))
			}
		case models.RuleDate:
			if !isDate(value) {
				errs = append(errs, fmt.Sprintf("Field %s must be a valid date", column))
			}
		case models.RuleBoolean:
			if !isBoolean(value) {
				errs = append(errs, fmt.Sprintf("Field %s must be a boolean", column))
			}
		case models.RuleString:
			// Дополнительных проверок нет
		}
	}

	return errs
}

// isNumber сообщает, приводится ли значение к числу.
// Числа, булевы значения и даты приводимы, строка — если разбирается
// как число.
func isNumber(v models.CellValue) bool {
	switch v.Kind {
	case models.KindNumber, models.KindBool, models.KindTime:
		return true
	case models.KindString:
		_, err := strconv.ParseFloat(v.Str, 64)
		return err == nil
	default:
		return false
	}
}

// isDate сообщает, разбирается ли значение как календарная дата.
func isDate(v models.CellValue) bool {
	switch v.Kind {
	case models.KindTime:
		return true
	case models.KindString:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, v.Str); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// isBoolean сообщает, является ли значение одним из четырех допустимых
// представлений: "true", "false", булево true или false.
func isBoolean(v models.CellValue) bool {
	switch v.Kind {
	case models.KindBool:
		return true
	case models.KindString:
		return v.Str == "true" || v.Str == "false"
	default:
		return false
	}
}
