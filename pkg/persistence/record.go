// Package persistence keeps active sessions across a process restart: one
// durable record per identity, written at shutdown and consumed at startup.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StartTimeLayout is ISO-8601 local date-time without a zone.
const StartTimeLayout = "2006-01-02T15:04:05.999999999"

// FormatStartTime renders t in the system zone.
func FormatStartTime(t time.Time) string {
	return t.In(time.Local).Format(StartTimeLayout)
}

// ParseStartTime reads a local date-time in the system zone.
func ParseStartTime(s string) (time.Time, error) {
	return time.ParseInLocation(StartTimeLayout, s, time.Local)
}

// Record is the serialized form of one active session. The absence of an
// end time means the session was active when it was written.
type Record struct {
	Identity         uuid.UUID
	Name             string
	Mode             string
	StartTime        time.Time
	ExtensionMinutes int
	// BaseDuration is the allowance in force when the session started.
	// Zero means "use the current configuration".
	BaseDuration time.Duration
	Snapshot     []byte
}

// Key is the store key of the record.
func (r Record) Key() string { return r.Identity.String() }

type wireRecord struct {
	Identity            string `json:"identity" yaml:"identity"`
	Name                string `json:"name,omitempty" yaml:"name,omitempty"`
	Mode                string `json:"mode" yaml:"mode"`
	StartTime           string `json:"startTime" yaml:"startTime"`
	ExtensionMinutes    int    `json:"extensionMinutes" yaml:"extensionMinutes"`
	BaseDurationSeconds int64  `json:"baseDurationSeconds,omitempty" yaml:"baseDurationSeconds,omitempty"`
	Snapshot            string `json:"snapshot" yaml:"snapshot"`
}

func (r Record) wire() wireRecord {
	return wireRecord{
		Identity:            r.Identity.String(),
		Name:                r.Name,
		Mode:                r.Mode,
		StartTime:           FormatStartTime(r.StartTime),
		ExtensionMinutes:    r.ExtensionMinutes,
		BaseDurationSeconds: int64(r.BaseDuration / time.Second),
		Snapshot:            base64.StdEncoding.EncodeToString(r.Snapshot),
	}
}

func (w wireRecord) record() (Record, error) {
	id, err := uuid.Parse(w.Identity)
	if err != nil {
		return Record{}, fmt.Errorf("identity: %w", err)
	}
	if w.Mode == "" {
		return Record{}, fmt.Errorf("mode is missing")
	}
	start, err := ParseStartTime(w.StartTime)
	if err != nil {
		return Record{}, fmt.Errorf("startTime: %w", err)
	}
	if w.ExtensionMinutes < 0 {
		return Record{}, fmt.Errorf("extensionMinutes is negative: %d", w.ExtensionMinutes)
	}
	if w.BaseDurationSeconds < 0 {
		return Record{}, fmt.Errorf("baseDurationSeconds is negative: %d", w.BaseDurationSeconds)
	}
	snap, err := base64.StdEncoding.DecodeString(w.Snapshot)
	if err != nil {
		return Record{}, fmt.Errorf("snapshot: %w", err)
	}
	return Record{
		Identity:         id,
		Name:             w.Name,
		Mode:             w.Mode,
		StartTime:        start,
		ExtensionMinutes: w.ExtensionMinutes,
		BaseDuration:     time.Duration(w.BaseDurationSeconds) * time.Second,
		Snapshot:         snap,
	}, nil
}

// Codec turns records into bytes for a RecordStore.
type Codec interface {
	Marshal(r Record) ([]byte, error)
	Unmarshal(data []byte) (Record, error)
}

type jsonCodec struct{}

// JSON is the codec of the key-value stores.
var JSON Codec = jsonCodec{}

func (jsonCodec) Marshal(r Record) ([]byte, error) { return json.Marshal(r.wire()) }

func (jsonCodec) Unmarshal(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, err
	}
	return w.record()
}

type yamlCodec struct{}

// YAML is the codec of the one-file-per-identity directory store.
var YAML Codec = yamlCodec{}

func (yamlCodec) Marshal(r Record) ([]byte, error) { return yaml.Marshal(r.wire()) }

func (yamlCodec) Unmarshal(data []byte) (Record, error) {
	var w wireRecord
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Record{}, err
	}
	return w.record()
}
