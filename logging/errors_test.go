package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Message(t *testing.T) {
	err := Classify(FrameUnresolved, "read source map", errors.New("permission denied"))
	assert.Equal(t, "read source map: permission denied", err.Error())

	bare := Classify(FrameUnresolved, "", errors.New("bare"))
	assert.Equal(t, "bare", bare.Error())
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, Classify(MailDeliveryFailed, "send", nil))
}

func TestClassify_MatchesClassAndCause(t *testing.T) {
	cause := &fs.PathError{Op: "open", Path: "/build/server/index.js.map", Err: fs.ErrNotExist}
	err := fmt.Errorf("resolve: %w", Classify(FrameUnresolved, "load map", cause))

	assert.True(t, errors.Is(err, FrameUnresolved))
	assert.False(t, errors.Is(err, MailDeliveryFailed))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	var ce *ClassError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "load map", ce.Op)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "", ErrorType(nil))
	assert.Equal(t, "errorString", ErrorType(errors.New("generic error")))
	assert.Equal(t, "PathError", ErrorType(&fs.PathError{Op: "open", Err: fs.ErrNotExist}))

	classified := Classify(ModeNotAllowed, "open stream", errors.New("production"))
	assert.Equal(t, "ModeNotAllowed", ErrorType(classified))
	assert.Equal(t, "ModeNotAllowed", ErrorType(fmt.Errorf("outer: %w", classified)))
}
