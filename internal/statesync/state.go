package statesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// timestampLayouts are accepted when decoding. Older writers emitted local
// times without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Timestamp is an optional instant encoded as RFC 3339, or null when unset.
type Timestamp struct {
	time.Time
}

// At returns a set timestamp.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// Set reports whether the timestamp holds a value.
func (t Timestamp) Set() bool {
	return !t.IsZero()
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Set() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = At(parsed)
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

// PlantState is the remote plant document.
type PlantState struct {
	LastWatering     Timestamp `json:"last_watering"`
	LastNotification Timestamp `json:"last_notification"`
}

// Merge applies local on top of remote. Set fields of local win; unset
// fields keep the remote value.
func Merge(remote, local PlantState) PlantState {
	out := remote
	if local.LastWatering.Set() {
		out.LastWatering = local.LastWatering
	}
	if local.LastNotification.Set() {
		out.LastNotification = local.LastNotification
	}
	return out
}

// FileSource keeps the local copy of the plant state in a JSON file.
// A missing file reads as the zero state.
type FileSource struct {
	Path string
}

// State implements StateSource.
func (f FileSource) State() (PlantState, error) {
	var st PlantState
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode state %s: %w", f.Path, err)
	}
	return st, nil
}

// Save writes st atomically.
func (f FileSource) Save(st PlantState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
