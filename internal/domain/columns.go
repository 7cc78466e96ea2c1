package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ==================== JSON COLUMN TYPES ====================

// StringList is an ordered list of strings stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	data, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan StringList: %w", err)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

func (r ExecutionResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *ExecutionResult) Scan(value interface{}) error {
	data, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan ExecutionResult: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, r)
}

func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("invalid type %T", value)
	}
}
