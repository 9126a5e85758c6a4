package modules

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/AlexanderGrooff/converge/pkg/template"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

type staticConnections struct {
	conn runtime.Connection
	err  error
}

func (s staticConnections) Get(host *inventory.Host, vars map[string]interface{}) (runtime.Connection, error) {
	return s.conn, s.err
}

func newTestRunner(conn runtime.Connection) (*Runner, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	r := NewRunner(staticConnections{conn: conn}, template.New())
	r.Clock = sleeper
	return r, sleeper
}

func invoke(t *testing.T, r *Runner, module string, args, vars map[string]interface{}) Result {
	t.Helper()
	return invokeReq(t, r, Request{Module: module, Args: args, Vars: vars})
}

func invokeReq(t *testing.T, r *Runner, req Request) Result {
	t.Helper()
	if req.Host == nil {
		req.Host = &inventory.Host{Name: "localhost"}
	}
	if req.Vars == nil {
		req.Vars = map[string]interface{}{}
	}
	res, err := r.Invoke(context.Background(), req)
	require.NoError(t, err)
	return res
}

// scriptedConn answers commands by prefix and records what ran. Queued
// replies for a prefix are used up before the fixed ones.
type scriptedConn struct {
	replies  map[string]runtime.CommandResult
	queued   map[string][]runtime.CommandResult
	commands []string
	envs     []map[string]string
}

func (s *scriptedConn) ExecuteCommand(ctx context.Context, command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	s.commands = append(s.commands, command)
	s.envs = append(s.envs, opts.Env)
	for prefix, queue := range s.queued {
		if strings.HasPrefix(command, prefix) && len(queue) > 0 {
			res := queue[0]
			s.queued[prefix] = queue[1:]
			res.Command = command
			return &res, nil
		}
	}
	best := ""
	for prefix := range s.replies {
		if strings.HasPrefix(command, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	res := runtime.CommandResult{Command: command}
	if best != "" {
		res = s.replies[best]
		res.Command = command
	}
	return &res, nil
}

func (s *scriptedConn) Stat(path string, follow bool) (os.FileInfo, error) {
	return nil, os.ErrNotExist
}

func (s *scriptedConn) ReadFile(path string) ([]byte, error) {
	return nil, os.ErrNotExist
}

func (s *scriptedConn) WriteFile(path string, data []byte, mode os.FileMode) error {
	return errors.New("read-only")
}

func (s *scriptedConn) SetFileMode(path, modeStr string) error {
	return errors.New("read-only")
}

func (s *scriptedConn) Close() error {
	return nil
}

// mutating drops the state queries so tests can compare the actions taken.
func (s *scriptedConn) mutating(queries ...string) []string {
	var out []string
	for _, cmd := range s.commands {
		query := false
		for _, q := range queries {
			query = query || strings.HasPrefix(cmd, q)
		}
		if !query {
			out = append(out, cmd)
		}
	}
	return out
}

func mergeReplies(maps ...map[string]runtime.CommandResult) map[string]runtime.CommandResult {
	out := map[string]runtime.CommandResult{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
