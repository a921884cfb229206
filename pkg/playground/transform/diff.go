package transform

import (
	"context"
	"reflect"
	"sync"

	"github.com/tsarna/go-structdiff"
)

// DiffPrevious returns a transform that replaces each payload with its
// structural difference from the previous payload seen on the same topic,
// in go-structdiff form: changed keys map to their new value and removed
// keys to nil.
//
// The first payload on a topic passes through whole. A payload equal to the
// previous one is dropped. Payloads that are not objects pass through when
// they differ from the previous one.
func DiffPrevious() MessageTransformFunc {
	var mu sync.Mutex
	previous := make(map[string]any)

	return func(ctx context.Context, msg *Message) (*Message, bool) {
		current, err := jqInput(msg.Payload)
		if err != nil {
			return msg, true
		}

		mu.Lock()
		prev, seen := previous[msg.Topic]
		previous[msg.Topic] = current
		mu.Unlock()

		if !seen {
			return &Message{Topic: msg.Topic, Payload: current, Fields: msg.Fields}, true
		}

		prevMap, prevOK := prev.(map[string]any)
		currMap, currOK := current.(map[string]any)
		if !prevOK || !currOK {
			if reflect.DeepEqual(prev, current) {
				return nil, false
			}
			return &Message{Topic: msg.Topic, Payload: current, Fields: msg.Fields}, true
		}

		diff, err := structdiff.Diff(prevMap, currMap)
		if err != nil {
			return &Message{Topic: msg.Topic, Payload: current, Fields: msg.Fields}, true
		}
		delta, _ := any(diff).(map[string]any)
		if len(delta) == 0 {
			return nil, false
		}

		return &Message{Topic: msg.Topic, Payload: delta, Fields: msg.Fields}, true
	}
}
