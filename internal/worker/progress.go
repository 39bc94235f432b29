package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"
)

// ProgressEvent is one line of the scanner's NDJSON progress file.
type ProgressEvent struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
	Pct    *int   `json:"pct,omitempty"`
}

const (
	progressOpenWait = 4 * time.Second
	progressPoll     = 200 * time.Millisecond
)

// tailProgress follows the progress file at path and hands each event to fn
// until stop is called. The file may appear after the scanner has started.
// stop returns once the remaining lines have been delivered.
func tailProgress(ctx context.Context, path string, fn func(ProgressEvent)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := openEventually(ctx, path)
		if err != nil {
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		var (
			partial  []byte
			draining bool
		)
		for {
			line, err := r.ReadBytes('\n')
			partial = append(partial, line...)
			if err == nil {
				var evt ProgressEvent
				if json.Unmarshal(partial, &evt) == nil && evt.Stage != "" {
					fn(evt)
				}
				partial = partial[:0]
				continue
			}
			if !errors.Is(err, io.EOF) || draining {
				return
			}
			select {
			case <-ctx.Done():
				draining = true
			case <-time.After(progressPoll):
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func openEventually(ctx context.Context, path string) (*os.File, error) {
	deadline := time.Now().Add(progressOpenWait)
	for {
		f, err := os.Open(path)
		if err == nil || time.Now().After(deadline) {
			return f, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(progressPoll / 2):
		}
	}
}
