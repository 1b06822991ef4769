package models

import "time"

// FileRecord представляет запись о загруженном табличном файле.
// Schema хранится в том виде, в котором была передана при загрузке:
// обработка файла использует схему, прикрепленную к записи на момент запуска.
type FileRecord struct {
	ID              string    `db:"id" json:"id"`
	Filename        string    `db:"filename" json:"filename"`
	OriginalName    string    `db:"original_name" json:"original_name"`
	MimeType        string    `db:"mime_type" json:"mime_type"`
	Size            int64     `db:"size_bytes" json:"size"`
	Path            string    `db:"path" json:"path"`
	ClientID        string    `db:"client_id" json:"client_id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Schema          Schema    `db:"schema" json:"metadata"`
	IsProcessed     bool      `db:"is_processed" json:"is_processed"`
	StorageType     string    `db:"storage_type" json:"storage_type"`
	ProcessingError *string   `db:"processing_error" json:"processing_error,omitempty"` // может быть NULL
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
