package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// SandboxRunner executes a generated Python script against a directory of
// user data and reports what happened. Implementations must never let a
// script outlive the timeout.
type SandboxRunner interface {
	Run(ctx context.Context, script string, dataDir string, timeout time.Duration) ExecutionResult
}

// DockerExecutor runs scripts in a throwaway container. The data directory
// is bind mounted read-write at /data so scripts can drop intermediates and
// plot files next to their inputs; the script itself is mounted separately,
// read-only, so user files can never shadow it.
type DockerExecutor struct {
	image      string
	memory     string
	cpus       string
	pidsLimit  string
	tmpfsSize  string
	dockerPath string
}

// NewDockerExecutor builds an executor from config, resolving the docker
// binary up front so a missing install surfaces at startup rather than on
// the first request.
func NewDockerExecutor(cfg *Config) (*DockerExecutor, error) {
	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("docker binary not found in PATH: %w", err)
	}
	exe := &DockerExecutor{
		image:      cfg.Sandbox.Image,
		memory:     cfg.Sandbox.MemoryLimit,
		cpus:       cfg.Sandbox.CPULimit,
		pidsLimit:  cfg.Sandbox.PidsLimit,
		tmpfsSize:  cfg.Sandbox.TmpfsSize,
		dockerPath: dockerPath,
	}
	if exe.image == "" {
		exe.image = "analyst-sandbox"
	}
	if exe.memory == "" {
		exe.memory = "512m"
	}
	if exe.cpus == "" {
		exe.cpus = "1.0"
	}
	if exe.pidsLimit == "" {
		exe.pidsLimit = "256"
	}
	if exe.tmpfsSize == "" {
		exe.tmpfsSize = "128m"
	}
	log.Printf("🐳 [DOCKER] Executor ready: image=%s memory=%s cpus=%s pids=%s",
		exe.image, exe.memory, exe.cpus, exe.pidsLimit)
	return exe, nil
}

// Run writes the script to its own temp dir, launches a container and
// classifies the outcome. The returned result always carries the raw
// stdout and stderr so the repair loop can feed them back to the model.
func (d *DockerExecutor) Run(ctx context.Context, script string, dataDir string, timeout time.Duration) ExecutionResult {
	start := time.Now()

	scriptDir, err := os.MkdirTemp("", "analyst-script-")
	if err != nil {
		return ExecutionResult{Kind: ResultLaunchError, Stderr: fmt.Sprintf("create script dir: %v", err)}
	}
	defer os.RemoveAll(scriptDir)

	scriptPath := filepath.Join(scriptDir, "script.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return ExecutionResult{Kind: ResultLaunchError, Stderr: fmt.Sprintf("write script: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := d.runArgs(scriptPath, dataDir)

	log.Printf("🐳 [DOCKER] Launching %s (timeout %s, data %s)", d.image, timeout, dataDir)

	cmd := exec.CommandContext(runCtx, d.dockerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	result.Kind = classifyRun(runCtx, runErr, &result)
	switch result.Kind {
	case ResultTimeout:
		log.Printf("⏰ [DOCKER] Execution timed out after %v", elapsed)
	case ResultLaunchError:
		if result.Stderr == "" && runErr != nil {
			result.Stderr = runErr.Error()
		}
		log.Printf("❌ [DOCKER] Container failed to launch: %s", result.Stderr)
	case ResultScriptError:
		log.Printf("⚠️ [DOCKER] Script failed (exit %d, %v)", result.ExitCode, elapsed)
	case ResultEmptyOutput:
		log.Printf("⚠️ [DOCKER] Script produced no output (%v)", elapsed)
	default:
		log.Printf("✅ [DOCKER] Script succeeded in %v (%d bytes stdout)", elapsed, len(result.Stdout))
	}
	return result
}

// runArgs builds the docker invocation. The rootfs is read-only with a
// bounded /tmp; /data is the one writable mount, since generated scripts
// legitimately save intermediates and plot files there.
func (d *DockerExecutor) runArgs(scriptPath, dataDir string) []string {
	return []string{
		"run", "--rm",
		"--network", "bridge",
		"--memory", d.memory,
		"--cpus", d.cpus,
		"--pids-limit", d.pidsLimit,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--read-only",
		"--tmpfs", "/tmp:size=" + d.tmpfsSize,
		"-v", fmt.Sprintf("%s:/data", dataDir),
		"-v", fmt.Sprintf("%s:/app/script.py:ro", scriptPath),
		d.image,
		"python", "/app/script.py",
	}
}

// classifyRun decides what one container run means. Order matters: a
// timeout also reports a kill exit code, and a logical error can ride on a
// zero exit.
func classifyRun(runCtx context.Context, runErr error, r *ExecutionResult) ResultKind {
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return ResultTimeout
	case runErr != nil && r.ExitCode == 125:
		// docker itself refused the run (bad image, daemon down)
		if r.Stderr == "" {
			r.Stderr = runErr.Error()
		}
		r.Stderr += "\nIs Docker installed and is the sandbox image built?"
		return ResultLaunchError
	case runErr != nil:
		if strings.TrimSpace(r.Stderr) == "" {
			r.Stderr = r.Stdout
		}
		return ResultScriptError
	case strings.TrimSpace(r.Stdout) == "":
		return ResultEmptyOutput
	default:
		// A zero exit can still report a logical failure as JSON on stdout.
		if msg, ok := logicalError(r.Stdout); ok {
			if r.Stderr == "" {
				r.Stderr = msg
			}
			return ResultScriptError
		}
		return ResultSuccess
	}
}

// logicalError reports whether the script's stdout is a JSON object with an
// "error" key, the convention generated scripts use for caught failures.
func logicalError(stdout string) (string, bool) {
	obj, err := ExtractJSONObject(stdout)
	if err != nil {
		return "", false
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return "", false
	}
	v, ok := parsed["error"]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}
