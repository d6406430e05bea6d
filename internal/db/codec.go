package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/mofasa/internal/models"
)

const timeLayout = time.RFC3339Nano

// sqliteTimeLayout is what CURRENT_TIMESTAMP produces.
const sqliteTimeLayout = "2006-01-02 15:04:05"

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, ns.String); err == nil {
		return t
	}
	if t, err := time.Parse(sqliteTimeLayout, ns.String); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func encodeStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) decodeStringList(ns sql.NullString, what string) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		s.logErr("decode "+what, err)
		return []string{}
	}
	return out
}

// sanitizeValue maps an arbitrary value onto something SQLite can bind:
// nil stays NULL, strings and integers pass through, floats are written in
// their shortest decimal form, booleans become 0/1 and anything else is stored
// as its JSON text.
func sanitizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case bool:
		return boolToInt64(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		// A REAL bound into a TEXT column reads back as "9.0".
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	case json.RawMessage:
		return string(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("encode value of type %T: %w", v, err)
		}
		return string(b), nil
	}
}

// decodeAnswer reverses sanitizeValue for answer rows. A value is treated as
// JSON when it starts with '[' or '{' or belongs to the selectedRules key; a
// failed decode returns the raw string. Free text that happens to begin with a
// bracket is therefore ambiguous.
func decodeAnswer(questionKey string, raw sql.NullString) any {
	if !raw.Valid {
		return nil
	}
	v := raw.String
	if questionKey == models.SelectedRulesKey || strings.HasPrefix(v, "[") || strings.HasPrefix(v, "{") {
		var out any
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
