// Package speech provides recognizers for headless participants.
package speech

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/app/assist"
)

// Script "recognizes" the lines of a text file, one per interval, as if they
// were spoken. Each run starts from the top and ends at the last line.
type Script struct {
	Path     string
	Interval time.Duration
}

var _ assist.Recognizer = Script{}

func (s Script) Recognize(ctx context.Context, emit func(string)) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		emit(line)
	}
	return sc.Err()
}
