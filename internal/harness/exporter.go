package harness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTimeoutSeconds bounds a single exporter invocation. Exporting the
// full model set builds and runs a Node program, which can be slow on a
// cold dependency cache.
const DefaultTimeoutSeconds = 300

// Exporter invokes the JavaScript exporter that trains tiny models, saves
// them in the layers-model format, and writes the xs/ys prediction fixtures
// next to each artifact.
type Exporter struct {
	// Command is the exporter invocation, e.g. ["node", "export.js"].
	// Model names and the output directory are appended as arguments.
	Command []string

	// WorkDir is the directory the exporter runs in.
	WorkDir string

	// TimeoutSeconds bounds a single invocation. Zero means
	// DefaultTimeoutSeconds.
	TimeoutSeconds int

	// Env holds extra environment variables for the subprocess.
	Env map[string]string

	log *logrus.Entry
}

// NewExporter builds an exporter around the given command, falling back to
// environment-based discovery when command is empty.
func NewExporter(command []string, workDir string) *Exporter {
	if len(command) == 0 {
		command = DefaultExporterCommand()
	}
	return &Exporter{
		Command: command,
		WorkDir: workDir,
		log:     logrus.WithField("component", "exporter"),
	}
}

// DefaultExporterCommand returns the command used to invoke the JavaScript
// exporter. The KERASBRIDGE_EXPORTER environment variable takes precedence;
// otherwise standard locations relative to the working directory are tried.
func DefaultExporterCommand() []string {
	if envCmd := os.Getenv("KERASBRIDGE_EXPORTER"); envCmd != "" {
		return strings.Fields(envCmd)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return []string{"node", "exporter/export.js"}
	}

	candidates := []string{
		filepath.Join(cwd, "exporter/export.js"),
		filepath.Join(cwd, "../exporter/export.js"),
		filepath.Join(cwd, "../../exporter/export.js"),
		filepath.Join(cwd, "../../../exporter/export.js"),
	}
	for _, path := range candidates {
		if absPath, err := filepath.Abs(path); err == nil {
			if _, err := os.Stat(absPath); err == nil {
				return []string{"node", absPath}
			}
		}
	}

	return []string{"node", "exporter/export.js"}
}

// Available reports whether the exporter command can actually run: the
// interpreter is on PATH and the script, if any, exists.
func (e *Exporter) Available() bool {
	if len(e.Command) == 0 {
		return false
	}
	if _, err := exec.LookPath(e.Command[0]); err != nil {
		return false
	}
	if len(e.Command) > 1 && strings.HasSuffix(e.Command[1], ".js") {
		if _, err := os.Stat(e.Command[1]); err != nil {
			return false
		}
	}
	return true
}

// Version returns the exporter's self-reported version string, or an empty
// string when it cannot be determined.
func (e *Exporter) Version(ctx context.Context) string {
	args := append(append([]string(nil), e.Command...), "--version")
	result := runCommand(ctx, args, e.WorkDir, e.Env, e.timeout())
	if result.Failed() {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

// Export runs the exporter, writing one artifact directory plus xs/ys
// fixture pairs per model under artifactDir.
func (e *Exporter) Export(ctx context.Context, artifactDir string, models []string) error {
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	args := append(append([]string(nil), e.Command...), "--artifact-dir", artifactDir)
	args = append(args, models...)

	e.log.WithFields(logrus.Fields{
		"artifact_dir": artifactDir,
		"models":       len(models),
	}).Info("running exporter")

	result := runCommand(ctx, args, e.WorkDir, e.Env, e.timeout())
	if result.Failed() {
		return fmt.Errorf("exporter failed (exit %d): %s", result.ExitCode, tail(result.Stderr, 2048))
	}

	// Every requested model must have produced an artifact.
	for _, name := range models {
		modelPath := filepath.Join(artifactDir, name, "model.json")
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("exporter did not produce %s: %w", modelPath, err)
		}
	}

	e.log.WithField("duration_ms", result.DurationMs).Info("exporter finished")
	return nil
}

// NewRunContext assembles the metadata for one harness run.
func (e *Exporter) NewRunContext(ctx context.Context, artifactDir string, rtol, atol float64) *RunContext {
	return &RunContext{
		RunID:           uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		ExporterCommand: append([]string(nil), e.Command...),
		ExporterVersion: e.Version(ctx),
		ArtifactDir:     artifactDir,
		RTol:            rtol,
		ATol:            atol,
		TimeoutSeconds:  e.timeout(),
	}
}

func (e *Exporter) timeout() int {
	if e.TimeoutSeconds > 0 {
		return e.TimeoutSeconds
	}
	return DefaultTimeoutSeconds
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
