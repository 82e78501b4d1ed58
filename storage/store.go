package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Store is the key-value substrate the ledger runs on. Get returns (nil, nil)
// for an absent key. Iterate visits keys with the given prefix in ascending
// byte order.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Iterate(prefix string, fn func(key string, value []byte) error) error
}

// Batcher is implemented by stores that can apply a set of writes atomically.
type Batcher interface {
	WriteBatch(puts map[string][]byte, deletes []string) error
}

// ErrStopIteration ends an Iterate walk early without reporting an error.
var ErrStopIteration = errors.New("storage: stop iteration")

// PutObject serializes obj as JSON under key.
func PutObject(s Store, key string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object %s: %w", key, err)
	}
	return s.Put(key, data)
}

// GetObject decodes the JSON value under key into obj. It reports false when
// the key is absent.
func GetObject(s Store, key string, obj interface{}) (bool, error) {
	data, err := s.Get(key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return false, fmt.Errorf("failed to unmarshal object %s: %w", key, err)
	}
	return true, nil
}

// GetUint64 reads a big-endian counter, treating an absent key as zero.
func GetUint64(s Store, key string) (uint64, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("counter %s: malformed value of %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutUint64 writes a big-endian counter.
func PutUint64(s Store, key string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return s.Put(key, buf[:])
}

// GetByPrefix collects every pair under prefix.
func GetByPrefix(s Store, prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.Iterate(prefix, func(key string, value []byte) error {
		result[key] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
