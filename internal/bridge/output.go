package bridge

import (
	"bytes"
	"fmt"
	"sync"
)

// replyScanner receives a runner's stdout, splits it into lines and keeps the
// first line that decodes as a reply. Every other line is a diagnostic.
type replyScanner struct {
	mu          sync.Mutex
	maxLine     int
	line        []byte
	overflowed  bool
	reply       *RunnerReply
	found       chan struct{}
	diagnostics *tailBuffer
	lastErr     error
}

func newReplyScanner(maxLine int) *replyScanner {
	return &replyScanner{
		maxLine:     maxLine,
		found:       make(chan struct{}),
		diagnostics: newTailBuffer(4096),
	}
}

func (s *replyScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			s.appendPartial(p)
			break
		}
		s.appendPartial(p[:idx])
		s.endLine()
		p = p[idx+1:]
	}
	return n, nil
}

func (s *replyScanner) appendPartial(p []byte) {
	if s.overflowed {
		return
	}
	if len(s.line)+len(p) > s.maxLine {
		s.overflowed = true
		s.line = s.line[:0]
		return
	}
	s.line = append(s.line, p...)
}

func (s *replyScanner) endLine() {
	defer func() {
		s.line = s.line[:0]
		s.overflowed = false
	}()

	if s.overflowed {
		s.lastErr = fmt.Errorf("output line exceeds %d bytes", s.maxLine)
		return
	}
	if s.reply != nil || len(bytes.TrimSpace(s.line)) == 0 {
		return
	}

	reply, err := DecodeReply(s.line)
	if err != nil {
		_, _ = s.diagnostics.Write(s.line)
		_, _ = s.diagnostics.Write([]byte{'\n'})
		s.lastErr = err
		return
	}
	s.reply = &reply
	close(s.found)
}

// flush handles a final line that was not newline terminated.
func (s *replyScanner) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.line) > 0 || s.overflowed {
		s.endLine()
	}
}

func (s *replyScanner) result() (*RunnerReply, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.diagnostics.String(), s.lastErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
