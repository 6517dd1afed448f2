package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed     = errors.New("malformed response body")
	ErrMissingFields = errors.New("response missing required fields")
)

// Shape is implemented by every response type that can be decoded with
// Decode. missing returns the names of absent required fields.
type Shape interface {
	missing() []string
}

// Decoded is a tagged result: exactly one of Value (Ok) or Err is meaningful.
type Decoded[T Shape] struct {
	Ok    bool
	Value T
	Err   error
}

// Decode parses body as T and checks its required fields. It never yields a
// zero T marked Ok.
func Decode[T Shape](body []byte) Decoded[T] {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return Decoded[T]{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if m := v.missing(); len(m) > 0 {
		return Decoded[T]{Err: fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(m, ", "))}
	}
	return Decoded[T]{Ok: true, Value: v}
}

// DecodeValue is Decode for an already-parsed JSON value.
func DecodeValue[T Shape](v any) Decoded[T] {
	b, err := json.Marshal(v)
	if err != nil {
		return Decoded[T]{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return Decode[T](b)
}
