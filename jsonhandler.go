package slotlog

import (
	"bytes"
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Severity of every level when forwarded to a logiface logger. User levels
// are notices.
var LogifaceLevels = [_LVL_MAX_for_checks_only]logiface.Level{
	logiface.LevelDisabled, //LVL_UNKNOWN
	logiface.LevelTrace,
	logiface.LevelDebug,
	logiface.LevelInformational,
	logiface.LevelWarning,
	logiface.LevelError,
	logiface.LevelCritical,
	logiface.LevelNotice,
	logiface.LevelNotice,
	logiface.LevelNotice,
	logiface.LevelNotice,
}

// JSONHandler forwards records to a logiface logger as one event per record,
// with the level name in the "level" field and the formatted text, without
// its trailing line feed, as the message.
type JSONHandler struct {
	logger *logiface.Logger[*stumpy.Event]
}

// NewJSONHandler writes JSON lines to w using stumpy. Every level passes, the
// level table already decided what is logged.
func NewJSONHandler(w io.Writer) *JSONHandler {
	return &JSONHandler{
		logger: stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
			stumpy.L.WithLevel(logiface.LevelTrace),
		),
	}
}

// NewLogifaceHandler wraps an existing logger, its level filter applies.
func NewLogifaceHandler(logger *logiface.Logger[*stumpy.Event]) *JSONHandler {
	return &JSONHandler{logger: logger}
}

func (h *JSONHandler) Handle(level LogLevel, text []byte) error {
	level = normLevel(level)
	h.logger.Build(LogifaceLevels[level]).
		Str("level", LevelNames[level]).
		Log(string(bytes.TrimSuffix(text, []byte{'\n'})))
	return nil
}
