package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/heimdex/heimdex-clipper/internal/fetch"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

// fakeTranscoder writes each command's Output inside its Dir. Content is the
// input name plus the output name so passthrough can be compared byte-wise.
type fakeTranscoder struct {
	mu       sync.Mutex
	commands []transcode.Command
	failOn   string // Output name that should fail
	failErr  error
	noWrite  bool
	onRun    func(transcode.Command)
}

func (f *fakeTranscoder) Run(ctx context.Context, c transcode.Command) (transcode.RunResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, c)
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(c)
	}
	if c.Output == f.failOn {
		err := f.failErr
		if err == nil {
			err = &transcode.CommandError{Binary: "ffmpeg", ExitCode: 1, StderrTail: "Invalid data found when processing input"}
		}
		return transcode.RunResult{ExitCode: 1}, err
	}
	if !f.noWrite {
		data := fmt.Sprintf("rendered %s", c.Output)
		if err := os.WriteFile(filepath.Join(c.Dir, c.Output), []byte(data), 0644); err != nil {
			return transcode.RunResult{ExitCode: -1}, err
		}
	}
	return transcode.RunResult{}, nil
}

func (f *fakeTranscoder) outputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		out = append(out, c.Output)
	}
	return out
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetch.Request
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(req.Dir, req.Filename)
	return path, os.WriteFile(path, []byte("source media"), 0644)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeRecorder) Record(ctx context.Context, ev Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeRecorder) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s []State
	for _, ev := range f.events {
		s = append(s, ev.State)
	}
	return s
}

func flagValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func countFlag(args []string, flag string) int {
	n := 0
	for _, a := range args {
		if a == flag {
			n++
		}
	}
	return n
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

var errBoom = errors.New("boom")
