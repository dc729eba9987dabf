package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. The prefix is evaluated lazily when a
// new line starts so it can reflect the task that is currently writing.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// Prefix returns the text injected at the beginning of each line.
	Prefix func() string

	midLine bool
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// back the number of bytes written. The injected prefixes are not included in
// the number of written bytes returned by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine && w.Prefix != nil {
			if _, err := io.WriteString(w.Sink, w.Prefix()); err != nil {
				return written, err
			}
		}

		chunk := p
		if eol := bytes.IndexByte(p, '\n'); eol != -1 {
			chunk = p[:eol+1]
		}

		n, err := w.Sink.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = chunk[len(chunk)-1] != '\n'
		p = p[len(chunk):]
	}

	return written, nil
}
