package driver

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const diamondSrc = `
name = "diamond"
root = true
pred-regs = 6
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1, 2]
instrs = [{text = "cmp"}]
defs = [
	{pred = 1, guard = 0, cond = "p3"},
	{pred = 2, guard = 0, cond = "!p3"},
]

[[block]]
id = 1
guards = [1]
succs = [3]
instrs = [{text = "then"}]

[[block]]
id = 2
guards = [2]
succs = [3]
instrs = [{text = "else"}]

[[block]]
id = 3
guards = [0]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1, 2, 3]
preds = [0, 1, 2]
parent = -1
`

const straightSrc = `
name = "straight"
root = true
pred-regs = 4
entry = 0

[[block]]
id = 0
guards = [0]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0]
preds = [0]
parent = -1
`

func writeInput(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestConvertRunsAllPhases(t *testing.T) {
	path := writeInput(t, t.TempDir(), "diamond.toml", diamondSrc)

	res := Convert(path, 100)
	if !res.OK() {
		t.Fatalf("conversion failed: %v", res.Bag.Items())
	}
	if res.Path != path {
		t.Errorf("Path = %q, want %q", res.Path, path)
	}
	if want := Digest(sha256.Sum256([]byte(diamondSrc))); res.SourceHash != want {
		t.Errorf("SourceHash does not match the input bytes")
	}

	if res.Stats.RemovedBranches != 2 {
		t.Errorf("RemovedBranches = %d, want 2", res.Stats.RemovedBranches)
	}
	if len(res.Fn.Layout) != 1 {
		t.Errorf("layout = %d blocks, want a fully merged single block", len(res.Fn.Layout))
	}

	var phases []string
	for _, p := range res.Timing.Phases {
		phases = append(phases, p.Name)
	}
	want := []string{"load", "frame", "regalloc", "reduce", "elim"}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("timed phases differ (-want +got):\n%s", diff)
	}
}

func TestConvertReportsProblemsAsDiagnostics(t *testing.T) {
	res := Convert(filepath.Join(t.TempDir(), "missing.toml"), 100)
	if res.OK() {
		t.Errorf("conversion of a missing file succeeded")
	}
	if !res.Bag.HasErrors() {
		t.Errorf("no diagnostics for a missing file")
	}

	path := writeInput(t, t.TempDir(), "bad.toml", "= bogus")
	res = Convert(path, 100)
	if res.OK() || !res.Bag.HasErrors() {
		t.Errorf("conversion of malformed input produced no errors")
	}
	if res.Fn != nil {
		t.Errorf("malformed input still produced a function")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeInput(t, dir, "diamond.toml", diamondSrc)
	res := Convert(path, 100)
	if !res.OK() {
		t.Fatalf("conversion failed: %v", res.Bag.Items())
	}

	a := NewArtifact(res)
	if a.Schema != artifactSchemaVersion || a.Name != "diamond" || !a.Root {
		t.Fatalf("artifact header = %d/%q/%v", a.Schema, a.Name, a.Root)
	}
	if len(a.Blocks) != len(res.Fn.Layout) {
		t.Fatalf("artifact blocks = %d, want %d", len(a.Blocks), len(res.Fn.Layout))
	}

	out := ArtifactPath(dir, a.Name)
	if err := a.WriteFile(out); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ReadArtifact(out)
	if err != nil {
		t.Fatalf("ReadArtifact failed: %v", err)
	}
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("artifact round trip differs (-want +got):\n%s", diff)
	}

	// no leftover temp files from the atomic write
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "diamond.toml" && e.Name() != "diamond.mp" {
			t.Errorf("unexpected file %s left behind", e.Name())
		}
	}
}

func TestReadArtifactRejectsUnknownSchema(t *testing.T) {
	dir := t.TempDir()
	a := &Artifact{Schema: artifactSchemaVersion + 1, Name: "future"}
	path := ArtifactPath(dir, a.Name)
	if err := a.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ReadArtifact(path); err == nil {
		t.Errorf("ReadArtifact accepted schema %d", a.Schema)
	}
}

func TestConvertDirOrdersResultsAndEmitsArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a-bad.toml", "= bogus")
	writeInput(t, dir, "diamond.toml", diamondSrc)
	writeInput(t, dir, "straight.toml", straightSrc)

	artDir := filepath.Join(dir, "out")
	results, err := ConvertDir(context.Background(), dir, Options{
		MaxDiagnostics: 100,
		Jobs:           2,
		ArtifactDir:    artDir,
	})
	if err != nil {
		t.Fatalf("ConvertDir failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	if results[0].OK() {
		t.Errorf("malformed a-bad.toml converted successfully")
	}
	if !results[1].OK() || results[1].Fn.Name != "diamond" {
		t.Errorf("results[1] is not the converted diamond")
	}
	if !results[2].OK() || results[2].Fn.Name != "straight" {
		t.Errorf("results[2] is not the converted straight")
	}

	for _, name := range []string{"diamond", "straight"} {
		if _, err := os.Stat(ArtifactPath(artDir, name)); err != nil {
			t.Errorf("artifact for %s missing: %v", name, err)
		}
	}
	entries, err := os.ReadDir(artDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("artifact dir holds %d files, want 2", len(entries))
	}
}

func TestConvertDirEmptyDirectory(t *testing.T) {
	results, err := ConvertDir(context.Background(), t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("ConvertDir failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}
