package schema

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON serializes the schema as a map of field names to type strings.
// Nested record types serialize as nested maps. Custom types serialize by
// name and do not round-trip; charters rebuild schemas in code, so wire
// schemas exist for inspection and executor prompts, not reconstruction of
// custom validators.
func (s Schema) MarshalJSON() ([]byte, error) {
	raw, err := s.wireMap()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []byte("null"), nil
	}
	return json.Marshal(raw)
}

func (s Schema) wireMap() (map[string]any, error) {
	if s == nil {
		return nil, nil
	}
	raw := make(map[string]any, len(s))
	for key, typ := range s {
		if typ == nil {
			return nil, fmt.Errorf("field %s: type is nil", key)
		}
		if obj, ok := typ.(*ObjectType); ok {
			nested, err := obj.fields.wireMap()
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			raw[key] = nested
			continue
		}
		raw[key] = typ.Name()
	}
	return raw, nil
}

// UnmarshalJSON deserializes the schema from a map of field names to type
// strings; nested maps deserialize as nested record types.
func (s *Schema) UnmarshalJSON(data []byte) error {
	if s == nil {
		return fmt.Errorf("schema: UnmarshalJSON on nil pointer")
	}

	if string(data) == "null" {
		*s = nil
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := fromWireMap(raw)
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

func fromWireMap(raw map[string]any) (Schema, error) {
	result := make(Schema, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			t, err := ParseType(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			result[key] = t
		case map[string]any:
			nested, err := fromWireMap(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			result[key] = Object(nested)
		default:
			return nil, fmt.Errorf("field %s: expected string or object type, got %T", key, value)
		}
	}
	return result, nil
}
