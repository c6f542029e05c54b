package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/advect/config"
)

// TerminalRecord is one particle's final state.
type TerminalRecord struct {
	Run       int     `csv:"run"`
	Rank      int     `csv:"rank"`
	ID        int64   `csv:"id"`
	X         float64 `csv:"x"`
	Y         float64 `csv:"y"`
	Z         float64 `csv:"z"`
	Steps     int     `csv:"steps"`
	Time      float64 `csv:"time"`
	ArcLength float64 `csv:"arc_length"`
	Status    string  `csv:"status"`
}

// StreamlineRecord is one vertex of a particle's polyline.
type StreamlineRecord struct {
	Run   int     `csv:"run"`
	Rank  int     `csv:"rank"`
	ID    int64   `csv:"id"`
	Index int     `csv:"index"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Z     float64 `csv:"z"`
}

// csvFile is an output CSV that writes its header once.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles run output files.
type OutputManager struct {
	dir         string
	terminal    *csvFile
	streamlines *csvFile
	rounds      *csvFile
	diagnostics *csvFile
}

// NewOutputManager creates the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &OutputManager{dir: dir}, nil
}

// open lazily creates a CSV file in the output directory.
func (om *OutputManager) open(slot **csvFile, name string) (*csvFile, error) {
	if *slot != nil {
		return *slot, nil
	}
	f, err := os.Create(filepath.Join(om.dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	*slot = &csvFile{f: f}
	return *slot, nil
}

func (om *OutputManager) writeTo(slot **csvFile, name string, records any) error {
	c, err := om.open(slot, name)
	if err != nil {
		return err
	}
	if err := c.write(records); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// WriteConfig saves the run configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTerminal appends final particle states to terminal.csv.
func (om *OutputManager) WriteTerminal(records []TerminalRecord) error {
	if om == nil || len(records) == 0 {
		return nil
	}
	return om.writeTo(&om.terminal, "terminal.csv", records)
}

// WriteStreamlines appends polyline vertices to streamlines.csv.
func (om *OutputManager) WriteStreamlines(records []StreamlineRecord) error {
	if om == nil || len(records) == 0 {
		return nil
	}
	return om.writeTo(&om.streamlines, "streamlines.csv", records)
}

// WriteRounds appends per-rank round statistics to rounds.csv.
func (om *OutputManager) WriteRounds(records []RoundStatsCSV) error {
	if om == nil || len(records) == 0 {
		return nil
	}
	return om.writeTo(&om.rounds, "rounds.csv", records)
}

// WriteSummaries appends cross-rank statistics to diagnostics.csv.
func (om *OutputManager) WriteSummaries(records []Summary) error {
	if om == nil || len(records) == 0 {
		return nil
	}
	return om.writeTo(&om.diagnostics, "diagnostics.csv", records)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.terminal, om.streamlines, om.rounds, om.diagnostics} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
