package sandbox

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/store"
)

type fakeDocker struct {
	exitCode int64
	output   string
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	return "container-1", nil
}
func (f *fakeDocker) ContainerStart(ctx context.Context, id string) error { return nil }
func (f *fakeDocker) ContainerWait(ctx context.Context, id string) (int64, error) {
	return f.exitCode, nil
}
func (f *fakeDocker) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.output)), nil
}
func (f *fakeDocker) ContainerRemove(ctx context.Context, id string) error { return nil }
func (f *fakeDocker) ContainerKill(ctx context.Context, id string) error   { return nil }
func (f *fakeDocker) Ping(ctx context.Context) error                      { return nil }

func newTestRunner(t *testing.T, docker DockerClient) *Runner {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))
	return NewRunner(t.TempDir(), docker, NewStore(db), 2)
}

func TestRunner_SuccessfulShellExec(t *testing.T) {
	r := newTestRunner(t, &fakeDocker{exitCode: 0, output: "hello"})
	req := Request{
		ProjectID: "proj-1",
		Exec:      Exec{Kind: KindShell, Command: "bash", Args: []string{"-lc", "echo hello"}, Cwd: "work"},
	}

	result, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Record.Status)
	require.Equal(t, 0, *result.Record.ExitCode)
}

func TestRunner_NonZeroExitIsFailed(t *testing.T) {
	r := newTestRunner(t, &fakeDocker{exitCode: 1})
	req := Request{
		ProjectID: "proj-1",
		Exec:      Exec{Kind: KindShell, Command: "bash", Args: []string{"-lc", "exit 1"}, Cwd: "work"},
	}

	result, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Record.Status)
}

func TestRunner_InvalidExecShapeRejected(t *testing.T) {
	r := newTestRunner(t, &fakeDocker{})
	req := Request{
		ProjectID: "proj-1",
		Exec:      Exec{Kind: KindShell, Command: "sh", Args: []string{"-c", "echo hi"}},
	}

	_, err := r.Run(context.Background(), req)
	require.Error(t, err)
}

func TestRunner_IdempotencyKeyReturnsPriorRecord(t *testing.T) {
	r := newTestRunner(t, &fakeDocker{exitCode: 0})
	req := Request{
		ProjectID:      "proj-1",
		Exec:           Exec{Kind: KindShell, Command: "bash", Args: []string{"-lc", "echo hi"}, Cwd: "work"},
		IdempotencyKey: "idem-1",
	}

	first, err := r.Run(context.Background(), req)
	require.NoError(t, err)

	second, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Record.ExecID, second.Record.ExecID)
}

func TestValidateInputPath_RejectsTraversal(t *testing.T) {
	_, err := ValidateInputPath("../escape.txt")
	require.Error(t, err)

	_, err = ValidateInputPath("/abs/path")
	require.Error(t, err)

	clean, err := ValidateInputPath("a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "a/b.txt", clean)
}

func TestDerivePolicy_NeverWidensBeyondCeiling(t *testing.T) {
	wide := Limits{MemoryMB: 999999, TimeoutMS: 999999}
	p := DerivePolicy(nil, &wide)
	require.LessOrEqual(t, p.MemoryMB, SystemCeiling().MemoryMB)
	require.LessOrEqual(t, p.TimeoutMS, SystemCeiling().TimeoutMS)
}
