// Package artifact manages the per-execution append-only evidence directory
// (spec §4.6), grounded in the teacher's pkg/cleanup retention-sweep idiom
// for the GC half and a plain filesystem layout for the write half.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Manager owns the <root>/.lonelycat/executions/<execution_id>/ directories.
type Manager struct {
	Root           string
	RetentionCount int           // default 100
	RetentionAge   time.Duration // default 7 days
}

// NewManager returns a Manager rooted at workspaceRoot's .lonelycat/executions.
func NewManager(workspaceRoot string) *Manager {
	return &Manager{
		Root:           filepath.Join(workspaceRoot, ".lonelycat", "executions"),
		RetentionCount: 100,
		RetentionAge:   7 * 24 * time.Hour,
	}
}

// Dir returns the directory for one execution.
func (m *Manager) Dir(executionID string) string {
	return filepath.Join(m.Root, executionID)
}

func (m *Manager) ensureDirs(executionID string) error {
	dir := m.Dir(executionID)
	for _, sub := range []string{"steps", "backups"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes one of the "4-piece set" files (plan.json, changeset.json,
// decision.json, execution.json) for executionID (spec §4.6).
func (m *Manager) WriteJSON(executionID, name string, v any) error {
	if err := m.ensureDirs(executionID); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.Dir(executionID), name), b, 0o644)
}

// AppendStepLog appends a timestamped line to steps/NN_<name>.log.
func (m *Manager) AppendStepLog(executionID string, stepNum int, name, line string) error {
	if err := m.ensureDirs(executionID); err != nil {
		return err
	}
	fname := fmt.Sprintf("%02d_%s.log", stepNum, name)
	f, err := os.OpenFile(filepath.Join(m.Dir(executionID), "steps", fname), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339Nano), line)
	return err
}

// AppendOutput appends to stdout.log or stderr.log.
func (m *Manager) AppendOutput(executionID, stream string, data []byte) error {
	if err := m.ensureDirs(executionID); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(m.Dir(executionID), stream+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// BackupDir returns (creating) the unique backup directory for a running
// execution's pre-change file copies.
func (m *Manager) BackupDir(executionID string) (string, error) {
	dir := filepath.Join(m.Dir(executionID), "backups")
	return dir, os.MkdirAll(dir, 0o755)
}

// BackupFile copies srcPath (relative to workspace root) into the backup
// directory, mirroring its relative path under the backup root.
func (m *Manager) BackupFile(executionID, workspaceRoot, relPath string) error {
	backupDir, err := m.BackupDir(executionID)
	if err != nil {
		return err
	}
	src := filepath.Join(workspaceRoot, relPath)
	dst := filepath.Join(backupDir, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// ReplayResult is returned by Replay (spec §4.6).
type ReplayResult struct {
	Plan      json.RawMessage
	Changeset json.RawMessage
	Decision  json.RawMessage
	Execution json.RawMessage
	StepLogs  map[string]string
	Stdout    string
	Stderr    string
}

// Replay parses the four JSONs plus step-log text and stdout/stderr for
// complete audit (spec §4.6).
func (m *Manager) Replay(executionID string) (*ReplayResult, error) {
	dir := m.Dir(executionID)
	readJSON := func(name string) (json.RawMessage, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return nil, nil
		}
		return b, err
	}

	res := &ReplayResult{StepLogs: map[string]string{}}
	var err error
	if res.Plan, err = readJSON("plan.json"); err != nil {
		return nil, err
	}
	if res.Changeset, err = readJSON("changeset.json"); err != nil {
		return nil, err
	}
	if res.Decision, err = readJSON("decision.json"); err != nil {
		return nil, err
	}
	if res.Execution, err = readJSON("execution.json"); err != nil {
		return nil, err
	}

	stepsDir := filepath.Join(dir, "steps")
	entries, _ := os.ReadDir(stepsDir)
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(stepsDir, e.Name()))
		if err == nil {
			res.StepLogs[e.Name()] = string(b)
		}
	}

	if b, err := os.ReadFile(filepath.Join(dir, "stdout.log")); err == nil {
		res.Stdout = string(b)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "stderr.log")); err == nil {
		res.Stderr = string(b)
	}
	return res, nil
}

// Retain enforces retention: keep the newest RetentionCount directories;
// among the rest, remove those older than RetentionAge (spec §4.6).
func (m *Manager) Retain() error {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type dirInfo struct {
		name    string
		modTime time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{e.Name(), info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.After(dirs[j].modTime) })

	cutoff := time.Now().Add(-m.RetentionAge)
	for i, d := range dirs {
		if i < m.RetentionCount {
			continue
		}
		if d.modTime.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(m.Root, d.name)); err != nil {
				return err
			}
		}
	}
	return nil
}
