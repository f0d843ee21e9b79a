package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Paths names the output files of a run.
type Paths struct {
	ReportJSON     string
	ReportMarkdown string
	GateDecision   string
}

// DefaultPaths are the output names used when none are given.
func DefaultPaths() Paths {
	return Paths{
		ReportJSON:     "report.json",
		ReportMarkdown: "report.md",
		GateDecision:   "gate_decision.json",
	}
}

type pending struct {
	tmp, dst string
}

// Write stages every artifact in a temp file next to its destination and
// renames them into place only once all three are on disk. A failure before
// the renames leaves no output behind.
func (b *Bundle) Write(p Paths) error {
	outputs := []struct {
		path string
		data []byte
	}{
		{p.ReportJSON, b.ReportJSON},
		{p.ReportMarkdown, b.ReportMarkdown},
		{p.GateDecision, b.GateJSON},
	}

	var staged []pending
	cleanup := func() {
		for _, s := range staged {
			os.Remove(s.tmp)
		}
	}
	for _, o := range outputs {
		if o.path == "" {
			cleanup()
			return errors.New("output path is empty")
		}
		tmp, err := stage(o.path, o.data)
		if err != nil {
			cleanup()
			return err
		}
		staged = append(staged, pending{tmp: tmp, dst: o.path})
	}

	for i, s := range staged {
		if err := os.Rename(s.tmp, s.dst); err != nil {
			for _, rest := range staged[i:] {
				os.Remove(rest.tmp)
			}
			return fmt.Errorf("publish %s: %w", s.dst, err)
		}
	}
	return nil
}

func stage(dst string, data []byte) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", dst, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("stage %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stage %s: %w", dst, err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stage %s: %w", dst, err)
	}
	return f.Name(), nil
}
