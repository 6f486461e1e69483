package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Field keys of a MetaData snapshot, as addressed by RemoteStore.GetSessionMetaDataField.
const (
	FieldID                  = "id"
	FieldCreationTime        = "creationTime"
	FieldLastAccessedTime    = "lastAccessedTime"
	FieldMaxInactiveInterval = "maxInactiveInterval"
	FieldValid               = "valid"
	FieldAttributes          = "attributes"
)

// MetaData is the serializable snapshot of a session's identity and timing.
// Timestamps are epoch milliseconds, MaxInactiveInterval is in seconds.
type MetaData struct {
	ID                  string            `json:"id" mapstructure:"id"`
	CreationTime        int64             `json:"creationTime" mapstructure:"creationTime"`
	LastAccessedTime    int64             `json:"lastAccessedTime" mapstructure:"lastAccessedTime"`
	MaxInactiveInterval int               `json:"maxInactiveInterval" mapstructure:"maxInactiveInterval"`
	Valid               bool              `json:"valid" mapstructure:"valid"`
	Attributes          map[string]string `json:"attributes,omitempty" mapstructure:"attributes"`
}

// Fields flattens the snapshot into string values keyed by the Field* constants.
func (m MetaData) Fields() (map[string]string, error) {
	attrs := m.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return map[string]string{
		FieldID:                  m.ID,
		FieldCreationTime:        strconv.FormatInt(m.CreationTime, 10),
		FieldLastAccessedTime:    strconv.FormatInt(m.LastAccessedTime, 10),
		FieldMaxInactiveInterval: strconv.Itoa(m.MaxInactiveInterval),
		FieldValid:               strconv.FormatBool(m.Valid),
		FieldAttributes:          string(raw),
	}, nil
}

// Field returns a single flattened field, as stored remotely.
func (m MetaData) Field(key string) (string, bool) {
	fields, err := m.Fields()
	if err != nil {
		return "", false
	}
	v, ok := fields[key]
	return v, ok
}

// DecodeMetaData rebuilds a snapshot from a loose map such as a redis hash.
// Numeric and boolean fields may be encoded as strings.
func DecodeMetaData(input map[string]string) (MetaData, error) {
	var meta MetaData
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
		DecodeHook:       attributesHook,
	})
	if err != nil {
		return MetaData{}, err
	}
	if err := decoder.Decode(input); err != nil {
		return MetaData{}, fmt.Errorf("failed to decode session metadata: %w", err)
	}
	if meta.ID == "" {
		return MetaData{}, ErrInvalidSessionID
	}
	return meta, nil
}

// attributesHook decodes the JSON-encoded attributes field into a map.
func attributesHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Map {
		return data, nil
	}
	s := data.(string)
	out := map[string]string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid attributes payload: %w", err)
	}
	return out, nil
}

// ParseTimestamp converts a stored lastAccessedTime field value into epoch milliseconds.
func ParseTimestamp(v string) (int64, error) {
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return ts, nil
}
