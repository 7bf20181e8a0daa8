package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BaseModel struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONMap) Scan(value interface{}) error {
	raw, ok := rawJSON(value)
	if !ok {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, j)
}

// StringSet is a case-insensitive set of labels (skills, languages, keywords)
// stored as a JSON array.
type StringSet []string

// NewStringSet lower-cases, trims and de-duplicates values.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	out := make(StringSet, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Contains(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, item := range s {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// Intersect returns how many of want are present in s.
func (s StringSet) Intersect(want StringSet) int {
	n := 0
	for _, w := range want {
		if s.Contains(w) {
			n++
		}
	}
	return n
}

func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSet) Scan(value interface{}) error {
	raw, ok := rawJSON(value)
	if !ok {
		*s = nil
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("scan string set: %w", err)
	}
	*s = items
	return nil
}

func rawJSON(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case []byte:
		return v, len(v) > 0
	case string:
		return []byte(v), v != ""
	default:
		return nil, false
	}
}
