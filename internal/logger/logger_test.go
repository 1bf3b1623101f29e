package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/checkpoint/internal/domain"
)

func TestLogChainOperation(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	l.LogChainOperation("append", 7, 3*time.Millisecond, nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "append", line["operation"])
	assert.Equal(t, float64(7), line["revision_id"])
	assert.Equal(t, "checkpoint", line["service"])
}

func TestLogChainOperationError(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.LogChainOperation("delete", 3, time.Millisecond, errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "boom", line["error"])
}

func TestLogChainOperationRejectedRequest(t *testing.T) {
	for _, err := range []error{
		domain.NotFoundError{Resource: "revision"},
		domain.ErrRevisionSealed,
		domain.ErrTimelineMismatch,
		domain.UnknownTemporalBoundError{Value: "last week"},
	} {
		var buf bytes.Buffer
		l := New(Config{Level: "debug", Output: &buf})

		l.LogChainOperation("seal", 5, time.Millisecond, err)

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "warn", line["level"], err.Error())
		assert.Equal(t, err.Error(), line["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf})

	l.LogChainOperation("append", 1, time.Millisecond, nil)
	assert.Zero(t, buf.Len())

	c := l.Component("query")
	c.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"query"`)
}
