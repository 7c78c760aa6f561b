package connectors

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct конвертирует произвольную map в Protobuf Struct.
// structpb понимает только JSON-типы, поэтому значения сначала проходят через JSON
// ([]string и числа Go превращаются в []any и float64).
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}
	return s, nil
}

// fromStruct раскладывает Struct в типизированную структуру через её json-теги.
func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("empty response")
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
