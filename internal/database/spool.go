package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sched-sim/internal/analysis"
	"sched-sim/internal/config"
	"sched-sim/internal/sim"
)

type RunArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID            string `json:"run_id"`
	Name             string `json:"name"`
	WorkloadChecksum string `json:"workload_checksum"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata     `json:"metadata"`
	Result   *sim.Result      `json:"result"`
	Report   *analysis.Report `json:"report,omitempty"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("SCHED_SIM_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteRunArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteRunArtifact(dir string, artifact *RunArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("run artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.WorkloadChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%s_%s_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
		shortID(artifact.RunID),
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadRunArtifact loads an artifact written by WriteRunArtifact.
func ReadRunArtifact(path string) (*RunArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer gz.Close()

	var artifact RunArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &artifact, nil
}

// BuildRunArtifact bundles one finished run. A workload that can no longer be
// read leaves the checksum empty.
func BuildRunArtifact(
	runID string,
	cfg *config.SimConfig,
	configContent string,
	metadata *RunMetadata,
	result *sim.Result,
	report *analysis.Report,
) *RunArtifact {
	name := ""
	checksum := ""
	if cfg != nil {
		name = cfg.Simulation.Name
		if cs, err := config.WorkloadChecksum(cfg.Simulation.Workload); err == nil {
			checksum = cs
		}
	}
	if metadata != nil && name == "" {
		name = metadata.Name
	}

	return &RunArtifact{
		Version:          1,
		CreatedAt:        time.Now(),
		RunID:            runID,
		Name:             name,
		WorkloadChecksum: checksum,
		ConfigContent:    configContent,
		Metadata:         metadata,
		Result:           result,
		Report:           report,
	}
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "norun"
	}
	return id
}
