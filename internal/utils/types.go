package utils

import (
	"encoding/json"
	"time"
)

// Empty is an empty struct, which has 0 bytes.
type Empty struct{}

// UniqueSet is a set of unique item, used to check if a key is already exists
type UniqueSet map[string]Empty

func (s UniqueSet) Add(key string) {
	s[key] = Empty{}
}

func (s UniqueSet) AlreadyExists(key string) bool {
	_, exists := s[key]
	return exists
}

func (s UniqueSet) Delete(key string) {
	delete(s, key)
}

// Duration wraps time.Duration so it serializes as a string ("30s", "5m")
// in API payloads.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}
