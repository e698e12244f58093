package wlantx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	var logger, err = NewLogger(LogConfig{Level: "info", Format: "json", Prefix: "wlantx"}, &buf)
	require.NoError(t, err)

	logger.Debug("quiet")
	logger.Info("hello", "sta", 7)

	var out = buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"sta":7`)
	assert.Contains(t, out, `"prefix":"wlantx"`)
}

func TestNewLogger_Rejects(t *testing.T) {
	var _, err = NewLogger(LogConfig{Level: "chatty"}, nil)
	assert.Error(t, err)

	_, err = NewLogger(LogConfig{Format: "xml"}, nil)
	assert.Error(t, err)
}
