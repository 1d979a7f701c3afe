// Package streaming parses server-sent event lines as they arrive.
package streaming

import "bytes"

// Field is one "name: value" line of an event stream.
type Field struct {
	Name  string
	Value []byte
}

// ParseLine splits a single line. The trailing CR/LF is ignored and one
// space after the colon is dropped. Comments (":" prefix), blank lines
// and lines without a colon report ok=false.
// This is a PURE function.
func ParseLine(line []byte) (f Field, ok bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] == ':' {
		return Field{}, false
	}
	name, value, found := bytes.Cut(line, []byte(":"))
	if !found {
		return Field{}, false
	}
	value = bytes.TrimPrefix(value, []byte(" "))
	return Field{Name: string(name), Value: value}, true
}

// Data returns the payload of a "data:" line.
func Data(line []byte) ([]byte, bool) {
	f, ok := ParseLine(line)
	if !ok || f.Name != "data" {
		return nil, false
	}
	return f.Value, true
}

// IsBoundary reports whether line ends an event. Clients flush here.
func IsBoundary(line []byte) bool {
	return len(bytes.TrimRight(line, "\r\n")) == 0
}

// IsDone reports the OpenAI end-of-stream sentinel.
func IsDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]"))
}
