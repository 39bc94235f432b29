package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zhernovs/ort/internal/filestorage"
	"github.com/zhernovs/ort/internal/model"
)

// Scanner produces a scan result for a package.
type Scanner interface {
	Details() model.ScannerDetails
	Scan(ctx context.Context, pkg model.Package) (model.ScanResult, error)
}

// ExecConfig configures an external scanner binary.
type ExecConfig struct {
	Path string
	// Name is reported in ScannerDetails; it defaults to the binary name.
	Name string
	// Version is reported in ScannerDetails; it is queried with --version
	// if empty.
	Version string
	// Args are passed to every scan and form the configuration fingerprint.
	Args       []string
	ScratchDir string
	// Progress receives the scanner's progress events.
	Progress func(pkg model.Identifier, evt ProgressEvent)
}

// ExecScanner runs a scanner binary once per package:
//
//	<path> --progress-file <file> scan --package <coordinates> [source flags] --out <report> [args]
//
// and reads the JSON report it writes.
type ExecScanner struct {
	cfg     ExecConfig
	details model.ScannerDetails
}

// scanReport is the document the scanner writes.
type scanReport struct {
	Provenance model.Provenance  `json:"provenance"`
	Summary    model.ScanSummary `json:"summary"`
	RawResult  model.RawResult   `json:"raw_result"`
}

func NewExecScanner(ctx context.Context, cfg ExecConfig) (*ExecScanner, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("scanner path is required")
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	name := cfg.Name
	if name == "" {
		name = filepath.Base(cfg.Path)
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		out, err := exec.CommandContext(ctx, cfg.Path, "--version").Output()
		if err != nil {
			return nil, fmt.Errorf("query scanner version: %w", err)
		}
		version = parseVersion(string(out))
	}
	return &ExecScanner{
		cfg: cfg,
		details: model.ScannerDetails{
			Name:          name,
			Version:       version,
			Configuration: strings.Join(cfg.Args, " "),
		},
	}, nil
}

// parseVersion picks the version from output like "scanner 1.2.3" or "1.2.3".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	for _, f := range fields {
		f = strings.TrimPrefix(f, "v")
		if f != "" && f[0] >= '0' && f[0] <= '9' {
			return f
		}
	}
	return strings.TrimSpace(line)
}

func (s *ExecScanner) Details() model.ScannerDetails { return s.details }

func sourceArgs(pkg model.Package) []string {
	var args []string
	if a := pkg.SourceArtifact; strings.TrimSpace(a.URL) != "" {
		args = append(args, "--source-artifact", a.URL)
		if a.Hash != "" {
			args = append(args, "--hash", a.HashAlgorithm+":"+a.Hash)
		}
	}
	if v := pkg.VcsProcessed; strings.TrimSpace(v.URL) != "" {
		args = append(args, "--vcs-type", v.Type, "--vcs-url", v.URL)
		if v.Revision != "" {
			args = append(args, "--vcs-revision", v.Revision)
		}
		if v.Path != "" {
			args = append(args, "--vcs-path", v.Path)
		}
	}
	return args
}

func (s *ExecScanner) Scan(ctx context.Context, pkg model.Package) (model.ScanResult, error) {
	args := sourceArgs(pkg)
	if len(args) == 0 {
		return model.ScanResult{}, permanent(fmt.Errorf("package %s has neither a source artifact nor a repository", pkg.ID.Coordinates()))
	}

	prefix := filestorage.EncodePathSegment(pkg.ID.Coordinates())
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	scratch, err := os.MkdirTemp(s.cfg.ScratchDir, prefix+"-")
	if err != nil {
		return model.ScanResult{}, permanent(fmt.Errorf("create scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)
	progressPath := filepath.Join(scratch, "progress.ndjson")
	reportPath := filepath.Join(scratch, "report.json")

	full := append([]string{"--progress-file", progressPath, "scan", "--package", pkg.ID.Coordinates()}, args...)
	full = append(full, "--out", reportPath)
	full = append(full, s.cfg.Args...)

	cmd := exec.CommandContext(ctx, s.cfg.Path, full...)
	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr
	slog.DebugContext(ctx, "exec scanner", "package", pkg.ID.Coordinates(), "cmd", s.cfg.Path+" "+strings.Join(full, " "))

	progress := s.cfg.Progress
	if progress == nil {
		progress = func(id model.Identifier, evt ProgressEvent) {
			slog.DebugContext(ctx, "scan progress", "package", id.Coordinates(), "stage", evt.Stage, "detail", evt.Detail)
		}
	}
	stopTail := tailProgress(ctx, progressPath, func(evt ProgressEvent) { progress(pkg.ID, evt) })
	err = cmd.Run()
	stopTail()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return model.ScanResult{}, fmt.Errorf("scanner failed: %w: %s", err, msg)
		}
		return model.ScanResult{}, fmt.Errorf("scanner failed: %w", err)
	}

	b, err := os.ReadFile(reportPath)
	if err != nil {
		return model.ScanResult{}, fmt.Errorf("read scanner report: %w", err)
	}
	var report scanReport
	if err := json.Unmarshal(b, &report); err != nil {
		return model.ScanResult{}, permanent(fmt.Errorf("parse scanner report: %w", err))
	}
	raw := report.RawResult
	if raw.IsNull() {
		raw = model.EmptyRawResult
	}
	return model.ScanResult{
		Provenance: report.Provenance,
		Scanner:    s.details,
		Summary:    report.Summary,
		RawResult:  raw,
	}, nil
}
