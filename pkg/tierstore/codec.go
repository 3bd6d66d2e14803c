package tierstore

import (
	"encoding/json"
	"fmt"

	"github.com/tierstore/tierstore/pkg/types"
)

// BytesSerializer stores raw []byte values unchanged.
type BytesSerializer struct{}

// Serialize returns a copy of the byte slice.
func (BytesSerializer) Serialize(value interface{}) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("expected []byte, got %T", value)
	}
	return append([]byte(nil), b...), nil
}

// Deserialize returns a copy of the stored bytes.
func (BytesSerializer) Deserialize(data []byte) (interface{}, error) {
	return append([]byte(nil), data...), nil
}

// StringSerializer stores string values as their UTF-8 bytes.
type StringSerializer struct{}

// Serialize converts the string to bytes.
func (StringSerializer) Serialize(value interface{}) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return []byte(s), nil
}

// Deserialize converts the stored bytes back to a string.
func (StringSerializer) Deserialize(data []byte) (interface{}, error) {
	return string(data), nil
}

// JSONSerializer stores any JSON-marshalable value. Deserialized values
// come back as the generic JSON types (map[string]interface{}, []interface{},
// float64, string, bool, nil), so it suits schemaless payloads rather than
// round-tripping concrete structs.
type JSONSerializer struct{}

// Serialize marshals the value to JSON.
func (JSONSerializer) Serialize(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

// Deserialize unmarshals the stored JSON.
func (JSONSerializer) Deserialize(data []byte) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

var (
	_ types.Serializer = BytesSerializer{}
	_ types.Serializer = StringSerializer{}
	_ types.Serializer = JSONSerializer{}
)
