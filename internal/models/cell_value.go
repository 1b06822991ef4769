package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ValueKind определяет тип значения ячейки таблицы.
type ValueKind int

// Возможные типы значений ячейки (закрытое множество).
const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// CellValue представляет значение одной ячейки исходной таблицы.
// CSV дает только строки, XLSX — строки, числа, булевы значения и даты.
// Закрытое объединение типов позволяет валидатору разбирать значение
// исчерпывающим switch без приведения через interface{}.
type CellValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// Конструкторы значений ячейки.

// StringValue создает строковое значение.
func StringValue(s string) CellValue { return CellValue{Kind: KindString, Str: s} }

// NumberValue создает числовое значение.
func NumberValue(n float64) CellValue { return CellValue{Kind: KindNumber, Num: n} }

// BoolValue создает булево значение.
func BoolValue(b bool) CellValue { return CellValue{Kind: KindBool, Bool: b} }

// TimeValue создает значение-дату.
func TimeValue(t time.Time) CellValue { return CellValue{Kind: KindTime, Time: t} }

// NullValue создает пустое значение.
func NullValue() CellValue { return CellValue{Kind: KindNull} }

// IsFalsy сообщает, считается ли значение "пустым" при проверке required:
// null, пустая строка, ноль и false. Семантика исходной проверки !row[field].
func (v CellValue) IsFalsy() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == ""
	case KindNumber:
		return v.Num == 0
	case KindBool:
		return !v.Bool
	default:
		return false
	}
}

// MarshalJSON сериализует значение в нативный JSON-скаляр.
// Даты записываются строкой в формате RFC 3339.
func (v CellValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		// NaN и Inf не представимы в JSON
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return nil, fmt.Errorf("число %v не представимо в JSON", v.Num)
		}
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(v.Time.Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("неизвестный тип значения ячейки: %d", v.Kind)
	}
}

// UnmarshalJSON восстанавливает значение из JSON-скаляра.
// Строки остаются строками: после круговой сериализации дата становится
// строкой RFC 3339, что не мешает проверке типа date валидатором.
func (v *CellValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора значения ячейки: %w", err)
	}

	switch val := raw.(type) {
	case nil:
		*v = NullValue()
	case string:
		*v = StringValue(val)
	case float64:
		*v = NumberValue(val)
	case bool:
		*v = BoolValue(val)
	default:
		return fmt.Errorf("значение ячейки должно быть JSON-скаляром, получено: %T", raw)
	}
	return nil
}

// String возвращает строковое представление значения (для логов и сообщений).
func (v CellValue) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.Str
	case KindNumber:
		return fmt.Sprintf("%v", v.Num)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	default:
		return ""
	}
}

// Row представляет одну разобранную строку таблицы: имя колонки -> значение.
type Row map[string]CellValue

// Value сериализует строку для записи в JSONB-колонку.
func (r Row) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan восстанавливает строку из JSONB-колонки.
func (r *Row) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, r)
	case string:
		return json.Unmarshal([]byte(data), r)
	case nil:
		*r = nil
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип для Scan строки данных: %T", src)
	}
}
