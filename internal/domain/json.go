package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONMap is a free-form JSON object persisted as a TEXT column. It backs
// the conversation metadata bag and the retained raw gateway payload.
type JSONMap map[string]any

// Value implements driver.Valuer; a nil map is stored as SQL NULL.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for TEXT and BLOB columns.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonmap: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return errors.New("jsonmap: malformed json in column")
	}
	*m = out
	return nil
}
