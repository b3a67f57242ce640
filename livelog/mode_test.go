package livelog

import (
	"errors"
	"testing"

	"github.com/auditmos/devlens/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
	}{
		{"", Development},
		{"development", Development},
		{"DEV", Development},
		{"production", Production},
		{" prod ", Production},
		{"test", Test},
		{"staging", Mode("staging")},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseMode(tt.input), "input %q", tt.input)
	}
}

func TestCheckMode(t *testing.T) {
	assert.NoError(t, CheckMode(Development))
	assert.NoError(t, CheckMode(Test))
	assert.NoError(t, CheckMode(Mode("staging")))

	err := CheckMode(Production)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModeNotAllowed))
	assert.True(t, errors.Is(err, logging.ModeNotAllowed))
	assert.Equal(t, "ModeNotAllowed", logging.ErrorType(err))
}
