package slotlog

/*********************************************************************************
io.Writer interface implementation

The Producer implements io.Writer so it can be used with fmt.Fprintf and
other formatting helpers. The semantics are:
 - Lvl(level) sets the current level used by subsequent Write calls.
 - Write(p) frames the bytes at the currently set curLevel with the level
   format and no call site, returns len(p) on success, 0 and a non-nil error
   on failure.

This allows patterns like:
  fmt.Fprintf(producer.Lvl(LVL_WARN), "disk low: %d%%", percent)
*/

import "io"

var _ io.Writer = (*Producer)(nil)

// Lvl sets the producer current level (used by Write/fmt.Fprintf) and returns
// the same producer for convenient chaining.
func (p *Producer) Lvl(level LogLevel) *Producer {
	p.curLevel = normLevel(level)
	return p
}

// Write implements io.Writer. Records written this way carry no call site and
// are never suppressed. If the payload is nil it is treated as a zero-length
// write with no error.
func (p *Producer) Write(b []byte) (n int, err error) {
	if b == nil {
		return 0, nil
	}
	err = p.Record_with_err(p.curLevel, FMT_FROM_LEVEL, Site{}, b)
	if err == nil {
		n = len(b)
	}
	return
}
