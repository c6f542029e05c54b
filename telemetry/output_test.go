package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/advect/config"
)

func TestOutputManager(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	if err := om.WriteConfig(config.MustLoad("")); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	first := []TerminalRecord{{Run: 0, Rank: 0, ID: 1, X: 1.5, Status: "exited_domain"}}
	second := []TerminalRecord{{Run: 0, Rank: 1, ID: 2, X: 2.5, Status: "max_steps"}}
	if err := om.WriteTerminal(first); err != nil {
		t.Fatalf("WriteTerminal: %v", err)
	}
	if err := om.WriteTerminal(second); err != nil {
		t.Fatalf("WriteTerminal: %v", err)
	}
	if err := om.WriteStreamlines(nil); err != nil {
		t.Fatalf("WriteStreamlines: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := config.Load(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config snapshot does not load: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "terminal.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []TerminalRecord
	if err := gocsv.UnmarshalFile(f, &got); err != nil {
		t.Fatalf("reading terminal.csv: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 || got[1].Status != "max_steps" || got[1].X != 2.5 {
		t.Errorf("unexpected rows %+v", got)
	}

	// Empty writes never create a file.
	if _, err := os.Stat(filepath.Join(dir, "streamlines.csv")); !os.IsNotExist(err) {
		t.Errorf("streamlines.csv exists after empty write: %v", err)
	}
}

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v", om, err)
	}
	if err := om.WriteTerminal([]TerminalRecord{{ID: 1}}); err != nil {
		t.Errorf("WriteTerminal on nil = %v", err)
	}
	if err := om.WriteConfig(nil); err != nil {
		t.Errorf("WriteConfig on nil = %v", err)
	}
	if om.Dir() != "" {
		t.Errorf("Dir() = %q", om.Dir())
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil = %v", err)
	}
}
