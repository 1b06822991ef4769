package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// RuleType определяет тип колонки в схеме валидации.
type RuleType string

// Поддерживаемые типы колонок.
const (
	RuleNumber  RuleType = "number"
	RuleDate    RuleType = "date"
	RuleBoolean RuleType = "boolean"
	RuleString  RuleType = "string"
)

// Rule — набор правил валидации для одной колонки.
type Rule struct {
	Required bool     `json:"required,omitempty"`
	Type     RuleType `json:"type,omitempty"`
}

// Schema — схема валидации файла: имя колонки -> правила.
// Сохраняет порядок колонок из исходного JSON-объекта, потому что порядок
// сообщений валидатора следует порядку колонок схемы. Колонки, которых нет
// в схеме, никогда не валидируются.
type Schema struct {
	columns []string
	rules   map[string]Rule
}

// NewSchema создает схему из упорядоченного списка колонок и их правил.
// Колонки без правила в rules игнорируются.
func NewSchema(columns []string, rules map[string]Rule) Schema {
	s := Schema{rules: make(map[string]Rule, len(columns))}
	for _, col := range columns {
		rule, ok := rules[col]
		if !ok {
			continue
		}
		s.columns = append(s.columns, col)
		s.rules[col] = rule
	}
	return s
}

// Columns возвращает имена колонок в порядке их объявления в схеме.
func (s Schema) Columns() []string {
	return s.columns
}

// Rule возвращает правила для колонки и признак ее наличия в схеме.
func (s Schema) Rule(column string) (Rule, bool) {
	rule, ok := s.rules[column]
	return rule, ok
}

// Len возвращает количество колонок в схеме.
func (s Schema) Len() int {
	return len(s.columns)
}

// UnmarshalJSON разбирает схему из JSON-объекта, сохраняя порядок ключей.
// Стандартный map порядок теряет, поэтому читаем поток токенов декодера.
func (s *Schema) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("ошибка разбора схемы: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("схема валидации должна быть JSON-объектом")
	}

	out := Schema{rules: make(map[string]Rule)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("ошибка разбора схемы: %w", err)
		}
		column, ok := keyTok.(string)
		if !ok {
			return errors.New("ключ схемы валидации должен быть строкой")
		}

		var rule Rule
		if err := dec.Decode(&rule); err != nil {
			return fmt.Errorf("ошибка разбора правил для колонки '%s': %w", column, err)
		}
		if rule.Type != "" {
			switch rule.Type {
			case RuleNumber, RuleDate, RuleBoolean, RuleString:
			default:
				return fmt.Errorf("неизвестный тип '%s' для колонки '%s'", rule.Type, column)
			}
		}

		// Повторное объявление колонки перезаписывает правила, порядок
		// определяется первым вхождением
		if _, exists := out.rules[column]; !exists {
			out.columns = append(out.columns, column)
		}
		out.rules[column] = rule
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("ошибка разбора схемы: %w", err)
	}

	*s = out
	return nil
}

// MarshalJSON записывает схему JSON-объектом в порядке объявления колонок.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range s.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		rule, err := json.Marshal(s.rules[col])
		if err != nil {
			return nil, err
		}
		buf.Write(rule)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Value сериализует схему для записи в JSONB-колонку.
func (s Schema) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan восстанавливает схему из JSONB-колонки.
func (s *Schema) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, s)
	case string:
		return json.Unmarshal([]byte(data), s)
	case nil:
		*s = Schema{}
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип для Scan схемы: %T", src)
	}
}
