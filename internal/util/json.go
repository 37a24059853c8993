package util

import "encoding/json"

// RawJsonMap is a JSON object whose values stay raw until needed; commit
// provenance is stored this way so unknown keys survive round-trips.
type RawJsonMap map[string]json.RawMessage

func (m RawJsonMap) Upsert(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m[key] = b
	return nil
}

func (m RawJsonMap) MustUpsert(key string, value any) {
	if err := m.Upsert(key, value); err != nil {
		panic(err)
	}
}

func (m RawJsonMap) GetString(key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
