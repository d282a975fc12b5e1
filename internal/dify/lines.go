package dify

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// LineReader splits a byte stream into lines. A line is only produced once
// its terminating newline has arrived; a trailing fragment without a newline
// is held back until the stream ends and then returned as the final line.
type LineReader struct {
	r *bufio.Reader
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next line without its line terminator. It returns io.EOF
// once the stream is exhausted; any other read error is returned as is.
func (l *LineReader) Next() (string, error) {
	line, err := l.r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if errors.Is(err, io.EOF) {
		if line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", io.EOF
	}
	// Bytes of an incomplete line read before the failure are discarded.
	return "", err
}
