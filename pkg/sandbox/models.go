// Package sandbox implements the Docker-based Sandbox Runner & Persistence
// (spec.md §4.11), grounded on Aureuma-si/agents/shared/docker's
// docker/client SDK idiom (bind-mount planning, container lifecycle) and
// original_source/apps/core-api/app/services/sandbox/runner_docker.py's
// policy-derivation and streaming-with-truncation control flow.
package sandbox

import (
	"encoding/json"
	"time"
)

type ExecKind string

const (
	KindShell  ExecKind = "shell"
	KindPython ExecKind = "python"
)

type NetMode string

const (
	NetModeNone NetMode = "none"
)

// Limits is the clamp-only policy envelope (spec §4.11 "Policy derivation").
type Limits struct {
	TimeoutMS              int     `json:"timeout_ms"`
	MaxStdoutBytes         int     `json:"max_stdout_bytes"`
	MaxStderrBytes         int     `json:"max_stderr_bytes"`
	MaxArtifactsBytesTotal int64   `json:"max_artifacts_bytes_total"`
	MemoryMB               int     `json:"memory_mb"`
	CPUCores               float64 `json:"cpu_cores"`
	PIDs                   int     `json:"pids"`
	MaxConcurrentExecs     int     `json:"max_concurrent_execs"`
	NetMode                NetMode `json:"net_mode"`
}

// DefaultLimits are the system defaults before any clamping layer applies.
func DefaultLimits() Limits {
	return Limits{
		TimeoutMS:              60_000,
		MaxStdoutBytes:         1 << 20,
		MaxStderrBytes:         1 << 20,
		MaxArtifactsBytesTotal: 100 << 20,
		MemoryMB:               512,
		CPUCores:               1.0,
		PIDs:                   128,
		MaxConcurrentExecs:     4,
		NetMode:                NetModeNone,
	}
}

// SystemCeiling is the hard cap no request/skill layer may widen past.
func SystemCeiling() Limits {
	return Limits{
		TimeoutMS:              300_000,
		MaxStdoutBytes:         10 << 20,
		MaxStderrBytes:         10 << 20,
		MaxArtifactsBytesTotal: 1 << 30,
		MemoryMB:               4096,
		CPUCores:               4.0,
		PIDs:                   1024,
		MaxConcurrentExecs:     16,
		NetMode:                NetModeNone,
	}
}

// Exec describes the command to run inside the container.
type Exec struct {
	Kind    ExecKind `json:"kind"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`
	Env     []string `json:"env,omitempty"`
}

// Input is one file to stage under projects/<pid>/inputs.
type Input struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Request is the sandbox execution request body (spec §4.11).
type Request struct {
	ProjectID       string          `json:"project_id"`
	SkillID         string          `json:"skill_id,omitempty"`
	Exec            Exec            `json:"exec"`
	Inputs          []Input         `json:"inputs"`
	ManifestLimits  *Limits         `json:"manifest_limits,omitempty"`
	PolicyOverrides *Limits         `json:"policy_overrides,omitempty"`
	TaskRef         string          `json:"task_ref,omitempty"`
	IdempotencyKey  string          `json:"-"`
	RequestID       string          `json:"request_id,omitempty"`
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Record mirrors the sandbox_execs table row (spec §3 SandboxExecRecord).
type Record struct {
	ExecID           string
	ProjectID        string
	TaskID           string
	ConversationID   string
	SkillID          string
	Image            string
	Cmd              string
	Args             []string
	Cwd              string
	EnvKeys          []string // keys only, never values (spec §3 invariant)
	PolicySnapshot   json.RawMessage
	Status           Status
	ExitCode         *int
	ErrorReason      json.RawMessage
	StartedAt        time.Time
	EndedAt          *time.Time
	DurationMS       *int64
	ArtifactsPath    string
	StdoutTruncated  bool
	StderrTruncated  bool
	IdempotencyKey   string
}

// Manifest entry for one produced artifact file (spec §4.11 Completion).
type ManifestEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Meta is meta.json's shape (spec §4.11 Completion).
type Meta struct {
	ExecID           string          `json:"exec_id"`
	Status           Status          `json:"status"`
	ExitCode         *int            `json:"exit_code"`
	PolicySnapshot   json.RawMessage `json:"policy_snapshot"`
	StdoutTruncated  bool            `json:"stdout_truncated"`
	StderrTruncated  bool            `json:"stderr_truncated"`
	DockerArgs       []string        `json:"docker_args"`
}
