package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "Store", "InsertReading", "insert")
	require.Error(t, err)
	assert.Equal(t, "Store.InsertReading: insert failed: boom", err.Error())
	assert.True(t, errors.Is(err, base))

	assert.Nil(t, Wrap(nil, "Store", "InsertReading", "insert"))
}

func TestWrapClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "Pipeline", "handle", "process")
			require.Error(t, err)

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Pipeline", ce.Component)
			assert.Equal(t, "handle", ce.Operation)
			assert.True(t, errors.Is(err, base))

			assert.Nil(t, tt.wrap(nil, "Pipeline", "handle", "process"))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrNoConnection))
	assert.True(t, IsTransient(ErrStorageUnavailable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(WrapInvalid(errors.New("bad"), "n", "m", "a")))

	// Classification on the wrapper wins over message patterns.
	wrapped := WrapTransient(errors.New("bad json"), "Normalizer", "Normalize", "decode")
	assert.True(t, IsTransient(wrapped))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidPayload))
	assert.True(t, IsInvalid(ErrMissingField))
	assert.True(t, IsInvalid(fmt.Errorf("decode: %w", ErrParsingFailed)))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.True(t, IsFatal(WrapFatal(errors.New("boom"), "n", "m", "a")))
	assert.False(t, IsFatal(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidPayload))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestClassifiedErrorMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorInvalid, Err: errors.New("inner")}
	assert.Equal(t, "inner", ce.Error())

	ce.Message = "outer message"
	assert.Equal(t, "outer message", ce.Error())
	assert.Equal(t, "inner", ce.Unwrap().Error())
}
