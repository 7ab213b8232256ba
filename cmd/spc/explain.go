package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"singlepath/internal/diag"
	"singlepath/internal/frame"
	"singlepath/internal/regalloc"
	"singlepath/internal/spfile"
)

var explainCmd = &cobra.Command{
	Use:   "explain [flags] <file.toml>",
	Short: "Show the predicate allocation for a function",
	Long: `Explain loads a function description and prints the live ranges,
register assignments, and spill traffic the allocator decided on,
without converting the function`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func runExplain(cmd *cobra.Command, args []string) error {
	path := args[0]

	maxDiagnostics, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}

	setupColor(cmd, os.Stderr)

	bag := diag.NewBag(maxDiagnostics)
	fn, tree, err := spfile.Load(path, bag)
	bag.Sort()
	diag.Report(os.Stderr, bag)
	if err != nil {
		return err
	}

	ft, err := frame.Prepare(fn, tree)
	if err != nil {
		return err
	}
	alloc, err := regalloc.Compute(fn, tree, len(fn.AvailPreds)-1)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "func %s: %d predicates, budget %d registers\n",
		fn.Name, alloc.NumPredicates, len(fn.AvailPreds)-1)
	for _, s := range tree.PreOrder() {
		alloc.Infos[s].Dump(out, tree, 2*tree.Scopes[s].Depth)
	}
	fmt.Fprintf(out, "frame: %d objects, %d spill words, %d spill bits, %d no-spill loops\n",
		ft.NumObjects(), ft.SpillWordCount(), alloc.SpillLocs, alloc.NoSpillScopes)
	return nil
}
