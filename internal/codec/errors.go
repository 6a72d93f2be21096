package codec

import "fmt"

// MalformedFrameError is returned when a line cannot be parsed against
// the schema: an unknown type tag, a short record, or a detail record
// arriving before the header.
type MalformedFrameError struct {
	Line   string
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("codec: malformed frame (%s): %q", e.Reason, e.Line)
}
