package slotlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_JSONHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	h := NewJSONHandler(&buf)
	require.NoError(t, h.Handle(LVL_WARN, []byte("hello\n")))

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, map[string]any{"lvl": "warning", "level": "warn", "msg": "hello"}, event)

	buf.Reset()
	require.NoError(t, h.Handle(LVL_UNKNOWN, []byte("nothing")))
	require.NoError(t, h.Handle(LogLevel(77), []byte("nothing")))
	assert.Empty(t, buf.String(), "unknown levels are disabled")
}

func Test_LogifaceHandler_Filter(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelWarning),
	)
	h := NewLogifaceHandler(logger)
	require.NoError(t, h.Handle(LVL_INFO, []byte("quiet")))
	assert.Empty(t, buf.String())
	require.NoError(t, h.Handle(LVL_FATAL, []byte("loud")))
	assert.Contains(t, buf.String(), `"lvl":"crit"`)
	assert.Contains(t, buf.String(), `"level":"fatal"`)
}

func Test_Registry_JSONHandler(t *testing.T) {
	out := &FakeWriter{}
	r, _ := newTestRegistry(t, nil, nil, WithLevels(plainLevels()))
	r.AddHandler(NewJSONHandler(out))
	m, err := r.Main()
	require.NoError(t, err)
	m.Info("first")
	m.Log(LVL_USER2, "second")

	lines := out.Lines()
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"lvl":"info","level":"info","msg":"first"}`, lines[0])
	assert.JSONEq(t, `{"lvl":"notice","level":"user2","msg":"second"}`, lines[1])
}
