package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DateFormat is the canonical wire and key format for ledger dates.
const DateFormat = "2006-01-02"

// Pagination describes list metadata returned alongside collections.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// StringList is a JSONB-persisted list of identifiers.
type StringList []string

// Value marshals the list to JSON for persistence.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the list.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	data, err := jsonSource(value)
	if err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	return nil
}

// Contains reports whether the list holds the given value.
func (l StringList) Contains(v string) bool {
	for _, item := range l {
		if item == v {
			return true
		}
	}
	return false
}

func jsonSource(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
