package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
)

// Codec converts one message class at one version to and from a wire array.
// ToArray returns the complete array including the leading version (and, for
// typed registries, the type discriminant).
type Codec[T any] interface {
	ToArray(v T) ([]any, error)
	FromArray(arr []any) (T, error)
}

// CodecKey identifies a codec within a registry
type CodecKey struct {
	Version int
	Type    int
}

// Registry dispatches serialization by (version, type). It is populated
// once, then frozen and shared read-only.
//
// Untyped registries (one message class, e.g. StreamMessage) read only the
// version at index 0; typed registries also read the type discriminant at
// index 1.
type Registry[T any] struct {
	class  string
	typed  bool
	typeOf func(T) int

	mu       sync.RWMutex
	codecs   map[CodecKey]Codec[T]
	versions map[int]struct{}
	latest   int
	frozen   bool
}

// NewRegistry returns an untyped registry for a single message class
func NewRegistry[T any](class string) *Registry[T] {
	return &Registry[T]{
		class:    class,
		codecs:   make(map[CodecKey]Codec[T]),
		versions: make(map[int]struct{}),
	}
}

// NewTypedRegistry returns a registry whose arrays carry a type
// discriminant at index 1. typeOf returns the discriminant of a value.
func NewTypedRegistry[T any](class string, typeOf func(T) int) *Registry[T] {
	r := NewRegistry[T](class)
	r.typed = true
	r.typeOf = typeOf
	return r
}

// Class returns the message class name
func (r *Registry[T]) Class() string {
	return r.class
}

// Register adds a codec. Registering the same (version, type) twice is a
// programming error, as is registering after Freeze.
func (r *Registry[T]) Register(version, msgType int, codec Codec[T]) error {
	if codec == nil {
		return fmt.Errorf("%s codec for version %d must not be nil", r.class, version)
	}
	if !r.typed {
		msgType = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %s version %d type %d", ErrRegistryFrozen, r.class, version, msgType)
	}
	key := CodecKey{Version: version, Type: msgType}
	if _, exists := r.codecs[key]; exists {
		return fmt.Errorf("%w: %s version %d type %d", ErrDuplicateCodec, r.class, version, msgType)
	}
	r.codecs[key] = codec
	r.versions[version] = struct{}{}
	return nil
}

// MustRegister is Register for startup code; it panics on error
func (r *Registry[T]) MustRegister(version, msgType int, codec Codec[T]) {
	if err := r.Register(version, msgType, codec); err != nil {
		panic(err)
	}
}

// SetLatest marks the version used when Serialize gets no explicit version
func (r *Registry[T]) SetLatest(version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot change latest %s version", ErrRegistryFrozen, r.class)
	}
	if _, ok := r.versions[version]; !ok {
		return &UnsupportedVersionError{Class: r.class, Version: version}
	}
	r.latest = version
	return nil
}

// Freeze ends initialization. Later Register/SetLatest calls fail.
func (r *Registry[T]) Freeze() *Registry[T] {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	return r
}

// LatestVersion returns the version used by default
func (r *Registry[T]) LatestVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// SupportedVersions returns every registered version in ascending order
func (r *Registry[T]) SupportedVersions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]int, 0, len(r.versions))
	for v := range r.versions {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions
}

func (r *Registry[T]) lookup(key CodecKey) (Codec[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[key]
	return c, ok
}

// Serialize encodes v at version; version 0 selects the latest version
func (r *Registry[T]) Serialize(v T, version int) ([]any, error) {
	if isNil(v) {
		return nil, &ValidationError{Field: r.class, Reason: "nil value"}
	}
	if version == 0 {
		version = r.LatestVersion()
	}
	key := CodecKey{Version: version}
	if r.typed {
		key.Type = r.typeOf(v)
	}
	codec, ok := r.lookup(key)
	if !ok {
		return nil, &UnsupportedVersionError{Class: r.class, Version: key.Version, Type: key.Type, Typed: r.typed}
	}
	return codec.ToArray(v)
}

// Deserialize decodes a wire array produced by Serialize
func (r *Registry[T]) Deserialize(arr []any) (T, error) {
	var zero T

	minLen := 1
	if r.typed {
		minLen = 2
	}
	reader := NewArrayReader(r.class, arr, minLen)
	key := CodecKey{Version: int(reader.Int(0, "version"))}
	if r.typed {
		key.Type = int(reader.Int(1, "type"))
	}
	if err := reader.Err(); err != nil {
		return zero, err
	}

	codec, ok := r.lookup(key)
	if !ok {
		return zero, &UnsupportedVersionError{Class: r.class, Version: key.Version, Type: key.Type, Typed: r.typed}
	}
	v, err := codec.FromArray(arr)
	if err != nil {
		var malformed *MalformedMessageError
		if !errors.As(err, &malformed) {
			err = &MalformedMessageError{Class: r.class, Reason: "decode failed", Err: err}
		}
		return zero, err
	}
	return v, nil
}

// Marshal serializes v and frames the array as JSON text
func (r *Registry[T]) Marshal(v T, version int) ([]byte, error) {
	arr, err := r.Serialize(v, version)
	if err != nil {
		return nil, err
	}
	return json.Marshal(arr)
}

// Unmarshal parses JSON framed wire text and deserializes it
func (r *Registry[T]) Unmarshal(data []byte) (T, error) {
	var zero T
	arr, err := DecodeJSONArray(data)
	if err != nil {
		return zero, &MalformedMessageError{Class: r.class, Reason: "invalid JSON array", Err: err}
	}
	return r.Deserialize(arr)
}

// DecodeJSONArray parses a JSON array keeping numbers exact (json.Number)
func DecodeJSONArray(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, err
	}
	if arr == nil {
		return nil, fmt.Errorf("expected array, got null")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after array at offset %d", dec.InputOffset())
	}
	return arr, nil
}

// isNil reports whether v is a nil interface or a typed nil
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
