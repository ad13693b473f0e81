package queue

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodePayload serializes a job message for storage in the queue.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes a job message into the given target.
func DecodePayload(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}
