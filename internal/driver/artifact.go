package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"singlepath/internal/ir"
)

// Current schema version - increment when Artifact format changes
const artifactSchemaVersion uint16 = 1

// Artifact is the serialized outcome of converting one function: the
// linearized program plus the numbers a build system needs to validate
// and account for the conversion.
type Artifact struct {
	// Schema version for safe invalidation when the format changes
	Schema uint16

	Name string
	Root bool

	// SourceHash is the content hash of the input description, for
	// staleness checks against the source file.
	SourceHash Digest

	// Blocks holds the surviving blocks in layout order, instructions
	// rendered in the assembly-like dump syntax.
	Blocks []ArtifactBlock

	// Frame accounting
	FrameObjects int
	SpillWords   int

	// Conversion statistics
	InsertedInstrs  int
	RemovedBranches int
	LoopCounters    int
	MergedBlocks    int
	RemovedLoads    int
	NoSpillScopes   int
}

// ArtifactBlock is one block of the linearized program.
type ArtifactBlock struct {
	ID     int32
	Succs  []int32
	Instrs []string
}

// NewArtifact builds the artifact for a successfully converted function.
func NewArtifact(res *Result) *Artifact {
	a := &Artifact{
		Schema:          artifactSchemaVersion,
		Name:            res.Fn.Name,
		Root:            res.Fn.Root,
		SourceHash:      res.SourceHash,
		FrameObjects:    res.Frame.NumObjects(),
		SpillWords:      res.Frame.SpillWordCount(),
		InsertedInstrs:  res.Stats.InsertedInstrs,
		RemovedBranches: res.Stats.RemovedBranches,
		LoopCounters:    res.Stats.LoopCounters,
		MergedBlocks:    res.Stats.MergedBlocks,
		RemovedLoads:    res.RemovedLoads,
		NoSpillScopes:   res.Alloc.NoSpillScopes,
	}
	for _, id := range res.Fn.Layout {
		blk := res.Fn.Block(id)
		ab := ArtifactBlock{ID: int32(blk.ID)}
		for _, s := range blk.Succs {
			ab.Succs = append(ab.Succs, int32(s))
		}
		for i := range blk.Instrs {
			ab.Instrs = append(ab.Instrs, ir.FormatInstr(&blk.Instrs[i]))
		}
		a.Blocks = append(a.Blocks, ab)
	}
	return a
}

// ArtifactPath names the artifact file for a function within dir.
func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, name+".mp")
}

// WriteFile serializes the artifact to path atomically.
func (a *Artifact) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "failed to remove temp file: %v\n", err)
		}
	}()

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(a); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// atomic replacement
	return os.Rename(f.Name(), path)
}

// ReadArtifact deserializes an artifact, rejecting unknown schemas.
func ReadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var a Artifact
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(&a); err != nil {
		return nil, err
	}
	if a.Schema != artifactSchemaVersion {
		return nil, fmt.Errorf("driver: %s: artifact schema %d, want %d",
			path, a.Schema, artifactSchemaVersion)
	}
	return &a, nil
}
