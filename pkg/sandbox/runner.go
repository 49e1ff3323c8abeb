package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// DockerClient is the subset of the Docker SDK the Runner depends on,
// grounded on Aureuma-si/agents/shared/docker's *client.Client wrapper.
type DockerClient interface {
	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerWait(ctx context.Context, id string) (int64, error)
	ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, id string) error
	ContainerKill(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Runner executes one sandboxed process per Request (spec.md §4.11).
type Runner struct {
	HostRoot  string // R/projects
	Docker    DockerClient
	Store     *Store
	Semaphore chan struct{} // sized once by NewRunner's maxConcurrent
	semOnce   sync.Once
	semSize   int
}

// NewRunner returns a Runner whose semaphore holds maxConcurrent slots, or
// DefaultLimits().MaxConcurrentExecs slots when maxConcurrent is not
// positive. A request's derived MaxConcurrentExecs does not resize it.
func NewRunner(hostRoot string, docker DockerClient, store *Store, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultLimits().MaxConcurrentExecs
	}
	return &Runner{HostRoot: hostRoot, Docker: docker, Store: store, Semaphore: make(chan struct{}, maxConcurrent), semSize: maxConcurrent}
}

// Result is returned by Run.
type Result struct {
	Record   *Record
	Manifest []ManifestEntry
}

// Run implements spec.md §4.11 end to end: idempotency check, policy
// derivation, validation, container execution with stream truncation,
// manifest/meta writing, and terminal-status persistence.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := r.Store.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return &Result{Record: existing}, nil
		} else if err != lcerrors.ErrNotFound {
			return nil, err
		}
	}

	policy := DerivePolicy(req.ManifestLimits, req.PolicyOverrides)
	execID := newExecID()
	artifactsPath := filepath.Join(r.HostRoot, req.ProjectID, "artifacts", execID)
	for _, dir := range []string{
		filepath.Join(r.HostRoot, req.ProjectID, "inputs"),
		filepath.Join(r.HostRoot, req.ProjectID, "work"),
		artifactsPath,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, lcerrors.Wrap(lcerrors.KindSandboxRuntime, "failed to prepare host directories", err)
		}
	}
	if err := r.writeInputs(req); err != nil {
		return nil, err
	}

	envKeys := make([]string, 0, len(req.Exec.Env))
	for _, kv := range req.Exec.Env {
		if i := indexByte(kv, '='); i >= 0 {
			envKeys = append(envKeys, kv[:i])
		}
	}
	policySnapshot, _ := json.Marshal(policy)

	rec := &Record{
		ExecID: execID, ProjectID: req.ProjectID, TaskID: req.TaskRef, SkillID: req.SkillID,
		Image: imageFor(req.Exec.Kind), Cmd: req.Exec.Command, Args: req.Exec.Args, Cwd: req.Exec.Cwd,
		EnvKeys: envKeys, PolicySnapshot: policySnapshot, Status: StatusRunning, StartedAt: time.Now().UTC(),
		ArtifactsPath: artifactsPath, IdempotencyKey: req.IdempotencyKey,
	}
	if err := r.Store.Insert(ctx, rec); err != nil {
		if err == lcerrors.ErrAlreadyExists && req.IdempotencyKey != "" {
			existing, getErr := r.Store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			return &Result{Record: existing}, nil
		}
		return nil, err
	}

	r.acquire(ctx)
	defer r.release()

	dockerArgs, err := r.runContainer(ctx, req, policy, rec)
	if err != nil {
		return nil, err
	}

	manifest, manifestErr := r.writeManifest(artifactsPath)
	if manifestErr != nil {
		return nil, manifestErr
	}
	meta := Meta{
		ExecID: execID, Status: rec.Status, ExitCode: rec.ExitCode, PolicySnapshot: policySnapshot,
		StdoutTruncated: rec.StdoutTruncated, StderrTruncated: rec.StderrTruncated, DockerArgs: dockerArgs,
	}
	if err := writeJSONFile(filepath.Join(artifactsPath, "meta.json"), meta); err != nil {
		return nil, err
	}

	durationMS := time.Since(rec.StartedAt).Milliseconds()
	ended := time.Now().UTC()
	var errReason json.RawMessage
	if rec.ErrorReason != nil {
		errReason = rec.ErrorReason
	}
	if err := r.Store.Finish(ctx, execID, rec.Status, rec.ExitCode, errReason, ended, durationMS, rec.StdoutTruncated, rec.StderrTruncated); err != nil {
		return nil, err
	}
	rec.EndedAt = &ended
	rec.DurationMS = &durationMS

	return &Result{Record: rec, Manifest: manifest}, nil
}

func (r *Runner) acquire(ctx context.Context) {
	select {
	case r.Semaphore <- struct{}{}:
	case <-ctx.Done():
	}
}

func (r *Runner) release() {
	select {
	case <-r.Semaphore:
	default:
	}
}

func (r *Runner) writeInputs(req Request) error {
	inputsDir := filepath.Join(r.HostRoot, req.ProjectID, "inputs")
	for _, in := range req.Inputs {
		norm, err := ValidateInputPath(in.Path)
		if err != nil {
			return err
		}
		dst := filepath.Join(inputsDir, norm)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, []byte(in.Content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func imageFor(kind ExecKind) string {
	switch kind {
	case KindPython:
		return "python:3.12-slim"
	default:
		return "bash:5"
	}
}

// runContainer mounts the three host templates, runs the container under
// the hardened flags of spec.md §4.11, and streams stdout/stderr with
// truncation, updating rec in place.
func (r *Runner) runContainer(ctx context.Context, req Request, policy Limits, rec *Record) ([]string, error) {
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: filepath.Join(r.HostRoot, req.ProjectID, "inputs"), Target: "/workspace/inputs", ReadOnly: true},
		{Type: mount.TypeBind, Source: filepath.Join(r.HostRoot, req.ProjectID, "work"), Target: "/workspace/work"},
		{Type: mount.TypeBind, Source: rec.ArtifactsPath, Target: "/workspace/artifacts"},
	}

	dockerArgs := []string{
		"run", "--rm", "--network=none", "--cap-drop=ALL", "--security-opt=no-new-privileges", "--user=1000:1000",
		fmt.Sprintf("--memory=%dm", policy.MemoryMB), fmt.Sprintf("--cpus=%g", policy.CPUCores),
		fmt.Sprintf("--pids-limit=%d", policy.PIDs),
	}

	cfg := &container.Config{
		Image:      rec.Image,
		Cmd:        append([]string{rec.Cmd}, rec.Args...),
		WorkingDir: "/workspace/" + orDefault(req.Exec.Cwd, "work"),
		Env:        req.Exec.Env,
		User:       "1000:1000",
	}
	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources:      container.Resources{Memory: int64(policy.MemoryMB) << 20, NanoCPUs: int64(policy.CPUCores * 1e9), PidsLimit: int64ptr(int64(policy.PIDs))},
		AutoRemove:     true,
	}

	containerID, err := r.Docker.ContainerCreate(ctx, cfg, hostCfg, "")
	if err != nil {
		rec.Status = StatusFailed
		reason, _ := json.Marshal(map[string]string{"reason": "create_failed: " + err.Error()})
		rec.ErrorReason = reason
		return dockerArgs, nil
	}
	if err := r.Docker.ContainerStart(ctx, containerID); err != nil {
		rec.Status = StatusFailed
		reason, _ := json.Marshal(map[string]string{"reason": "start_failed: " + err.Error()})
		rec.ErrorReason = reason
		return dockerArgs, nil
	}

	timeout := time.Duration(policy.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutTrunc, stderrTrunc := r.streamLogs(runCtx, containerID, &stdoutBuf, &stderrBuf, policy)

	exitCode, waitErr := r.Docker.ContainerWait(runCtx, containerID)

	if runCtx.Err() != nil {
		_ = r.Docker.ContainerKill(context.Background(), containerID)
		_ = r.Docker.ContainerRemove(context.Background(), containerID)
		rec.Status = StatusTimeout
		reason, _ := json.Marshal(map[string]string{"reason": "timeout"})
		rec.ErrorReason = reason
	} else if waitErr != nil {
		rec.Status = StatusFailed
		reason, _ := json.Marshal(map[string]string{"reason": waitErr.Error()})
		rec.ErrorReason = reason
	} else {
		code := int(exitCode)
		rec.ExitCode = &code
		if exitCode == 0 {
			rec.Status = StatusSucceeded
		} else {
			rec.Status = StatusFailed
		}
	}
	rec.StdoutTruncated, rec.StderrTruncated = stdoutTrunc, stderrTrunc

	if err := os.WriteFile(filepath.Join(rec.ArtifactsPath, "stdout.txt"), stdoutBuf.Bytes(), 0o644); err != nil {
		return dockerArgs, err
	}
	if err := os.WriteFile(filepath.Join(rec.ArtifactsPath, "stderr.txt"), stderrBuf.Bytes(), 0o644); err != nil {
		return dockerArgs, err
	}
	return dockerArgs, nil
}

// streamLogs demultiplexes stdout/stderr from the container's single log
// stream with one stdcopy.StdCopy call on the calling goroutine, stopping
// writes (but continuing to drain) once each stream's byte cap is reached.
func (r *Runner) streamLogs(ctx context.Context, containerID string, stdout, stderr *bytes.Buffer, policy Limits) (stdoutTrunc, stderrTrunc bool) {
	logs, err := r.Docker.ContainerLogs(ctx, containerID)
	if err != nil {
		return false, false
	}
	defer logs.Close()

	cappedOut := &cappedWriter{limit: policy.MaxStdoutBytes}
	cappedErr := &cappedWriter{limit: policy.MaxStderrBytes}
	_, _ = stdcopy.StdCopy(cappedOut, cappedErr, logs)
	stdout.Write(cappedOut.buf.Bytes())
	stderr.Write(cappedErr.buf.Bytes())
	return cappedOut.truncated, cappedErr.truncated
}

// cappedWriter drains all writes but stops appending to buf past limit,
// flagging truncation (spec §4.11: "continue draining but stop writing").
type cappedWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 || w.buf.Len() >= w.limit {
		w.truncated = w.truncated || len(p) > 0
		return len(p), nil
	}
	remaining := w.limit - w.buf.Len()
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (r *Runner) writeManifest(artifactsPath string) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	err := filepath.WalkDir(artifactsPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if d.Name() == "manifest.json" || d.Name() == "meta.json" {
			return nil
		}
		rel, err := filepath.Rel(artifactsPath, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		h, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, ManifestEntry{Path: filepath.ToSlash(rel), Size: info.Size(), Hash: h})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if err := writeJSONFile(filepath.Join(artifactsPath, "manifest.json"), entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func newExecID() string {
	return fmt.Sprintf("exec_%d", time.Now().UnixNano())
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func int64ptr(v int64) *int64 { return &v }
