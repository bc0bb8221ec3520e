package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Stdio is the copy-and-paste transport: payloads are written as single
// lines for the user to forward, and read back from a line the user pastes.
type Stdio struct {
	r      *bufio.Reader
	w      io.Writer
	prompt string
}

// NewStdio returns a Stdio reading from r and writing to w. A non-empty
// prompt is printed before every Receive. A *bufio.Reader is used as is so
// callers can keep reading from it after a Receive.
func NewStdio(r io.Reader, w io.Writer, prompt string) *Stdio {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Stdio{r: br, w: w, prompt: prompt}
}

func (s *Stdio) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.w, "%s\n", payload)
	return err
}

// Receive reads one non-empty line. The read itself cannot be interrupted;
// ctx is only checked before it starts.
func (s *Stdio) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.prompt != "" {
		if _, err := fmt.Fprintln(s.w, s.prompt); err != nil {
			return nil, err
		}
	}
	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			return []byte(line), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}
