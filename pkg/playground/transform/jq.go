package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// JqTransform compiles a jq query and returns a transform that runs it
// against each payload. The query can use $topic and $type, the latter
// being the last topic segment (the message type for router topics).
//
// Renderer responses and server messages are converted to their JSON form
// first, so ".payload.rendererId" and similar work as expected. Several
// results are collected into an array; no result drops the message. When
// the query fails at runtime the message passes through unchanged.
func JqTransform(jqQuery string, logger *zap.Logger) (MessageTransformFunc, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq query '%s': %w", jqQuery, err)
	}

	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$topic", "$type"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq query '%s': %w", jqQuery, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, msg *Message) (*Message, bool) {
		input, err := jqInput(msg.Payload)
		if err != nil {
			logger.Error("jq transform: failed to convert payload",
				zap.String("jq_query", jqQuery),
				zap.String("topic", msg.Topic),
				zap.String("payload_type", fmt.Sprintf("%T", msg.Payload)),
				zap.Error(err))
			return msg, true
		}

		iter := code.RunWithContext(ctx, input, msg.Topic, lastSegment(msg.Topic))

		var results []any
		for {
			result, ok := iter.Next()
			if !ok {
				break
			}
			if execErr, isErr := result.(error); isErr {
				logger.Error("jq transform: execution error",
					zap.String("jq_query", jqQuery),
					zap.String("topic", msg.Topic),
					zap.Error(execErr))
				return msg, true
			}
			results = append(results, result)
		}

		if len(results) == 0 {
			return nil, false
		}

		var payload any = results
		if len(results) == 1 {
			payload = results[0]
		}

		return &Message{Topic: msg.Topic, Payload: payload, Fields: msg.Fields}, true
	}, nil
}

// jqInput converts a payload into the plain maps, slices and scalars gojq
// works on.
func jqInput(payload any) (any, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return unmarshalOrString(v), nil
	case []byte:
		return unmarshalOrString(v), nil
	case string:
		return unmarshalOrString([]byte(v)), nil
	}

	if needsJSONRoundTrip(payload) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	return payload, nil
}

func unmarshalOrString(data []byte) any {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data)
	}
	return out
}

// needsJSONRoundTrip reports whether payload holds structs, typed maps or
// sized numbers that gojq cannot use directly.
func needsJSONRoundTrip(payload any) bool {
	switch payload.(type) {
	case map[string]any, []any, bool, float64, int:
		return false
	}

	t := reflect.TypeOf(payload)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32:
		return true
	}
	return false
}

func lastSegment(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}
