package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AuditRecord is one governed request (ask, confirm or cancel) in the audit trail.
type AuditRecord struct {
	ID             uint      `json:"id" gorm:"primarykey"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
	SessionID      string    `json:"session_id" gorm:"size:255;index;not null"`
	Role           string    `json:"role" gorm:"size:32;index;not null"`
	Action         string    `json:"action" gorm:"size:32;not null"`
	Question       string    `json:"question,omitempty" gorm:"type:text"`
	GeneratedSQL   string    `json:"generated_sql,omitempty" gorm:"type:text"`
	ExecutedSQL    string    `json:"executed_sql,omitempty" gorm:"type:text"`
	Kind           string    `json:"kind,omitempty" gorm:"size:64"`
	Decision       string    `json:"decision,omitempty" gorm:"size:64;index"`
	Reason         string    `json:"reason,omitempty" gorm:"size:64"`
	ConfirmationID string    `json:"confirmation_id,omitempty" gorm:"size:64;index"`
	Confirmation   string    `json:"confirmation,omitempty" gorm:"size:32"`
	Outcome        string    `json:"outcome,omitempty" gorm:"size:32"`
	RowsAffected   int64     `json:"rows_affected"`
	RowCount       int       `json:"row_count"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	DurationMS     int64     `json:"duration_ms"`
	Details        JSON      `json:"details,omitempty" gorm:"type:jsonb"`
}

// TableName specifies the table name for the AuditRecord model
func (AuditRecord) TableName() string {
	return "audit_records"
}

// Executed reports whether the request reached the store.
func (r *AuditRecord) Executed() bool {
	return r.Outcome != ""
}

// JSON is a custom type for handling JSONB data
type JSON map[string]interface{}

// Value implements the driver.Valuer interface for JSON
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for JSON
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON", value)
	}

	return json.Unmarshal(bytes, j)
}
