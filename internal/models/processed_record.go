package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ChangeEntry — одна запись журнала изменений поля обработанной строки.
// Записи только добавляются, порядок добавления совпадает с хронологическим.
type ChangeEntry struct {
	Field     string    `json:"field"`
	OldValue  CellValue `json:"oldValue"`
	NewValue  CellValue `json:"newValue"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

// AuditBlock — блок аудита обработанной строки: кто создал, кто и когда
// последним менял, и полная история изменений полей.
type AuditBlock struct {
	CreatedBy     string        `json:"createdBy"`
	UpdatedBy     string        `json:"updatedBy"`
	LastUpdated   time.Time     `json:"lastUpdated"`
	ChangeHistory []ChangeEntry `json:"changeHistory"`
}

// Value сериализует блок аудита для записи в JSONB-колонку.
func (a AuditBlock) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan восстанавливает блок аудита из JSONB-колонки.
func (a *AuditBlock) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, a)
	case string:
		return json.Unmarshal([]byte(data), a)
	case nil:
		*a = AuditBlock{}
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип для Scan блока аудита: %T", src)
	}
}

// ProcessedRecord представляет одну обработанную строку исходного файла.
// ClientID денормализован из FileRecord, чтобы проверять доступ без join.
// Пара (FileID, RowIndex) уникальна, RowIndex идет подряд с нуля в порядке
// строк исходного файла.
type ProcessedRecord struct {
	ID        string         `db:"id" json:"id"`
	FileID    string         `db:"file_id" json:"file_id"`
	ClientID  string         `db:"client_id" json:"client_id"`
	RowIndex  int            `db:"row_index" json:"row_index"`
	Data      Row            `db:"data" json:"data"`
	Errors    pq.StringArray `db:"errors" json:"errors"`
	Audit     AuditBlock     `db:"audit" json:"audit"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}
