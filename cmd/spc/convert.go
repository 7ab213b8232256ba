package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"singlepath/internal/diag"
	"singlepath/internal/driver"
	"singlepath/internal/ir"
)

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <file.toml | dir>",
	Short: "Convert function descriptions to single-path form",
	Long: `Convert loads annotated control-flow graphs, allocates their guard
predicates, and flattens them into branch-free single-path programs`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("out", "", "directory for serialized artifacts")
	convertCmd.Flags().Bool("dump", false, "print the converted program")
	convertCmd.Flags().Int("jobs", 0, "conversion parallelism (0 = all CPUs)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	path := args[0]

	outDir, err := cmd.Flags().GetString("out")
	if err != nil {
		return fmt.Errorf("failed to get out flag: %w", err)
	}
	dump, err := cmd.Flags().GetBool("dump")
	if err != nil {
		return fmt.Errorf("failed to get dump flag: %w", err)
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	maxDiagnostics, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	timings, _ := cmd.Root().PersistentFlags().GetBool("timings")

	setupColor(cmd, os.Stderr)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var results []*driver.Result
	if info.IsDir() {
		results, err = driver.ConvertDir(cmd.Context(), path, driver.Options{
			MaxDiagnostics: maxDiagnostics,
			Jobs:           jobs,
			ArtifactDir:    outDir,
		})
		if err != nil {
			return err
		}
	} else {
		res := driver.Convert(path, maxDiagnostics)
		if outDir != "" && res.OK() {
			a := driver.NewArtifact(res)
			if err := a.WriteFile(driver.ArtifactPath(outDir, res.Fn.Name)); err != nil {
				return err
			}
		}
		results = []*driver.Result{res}
	}

	failed := 0
	for _, res := range results {
		res.Bag.Sort()
		diag.Report(os.Stderr, res.Bag)
		if !res.OK() {
			failed++
			continue
		}
		if !quiet {
			fmt.Fprintf(os.Stdout, "%s: %d blocks, +%d instrs, -%d branches, -%d loads\n",
				res.Fn.Name, len(res.Fn.Layout),
				res.Stats.InsertedInstrs, res.Stats.RemovedBranches, res.RemovedLoads)
		}
		if dump {
			if err := ir.DumpFunc(os.Stdout, res.Fn); err != nil {
				return err
			}
		}
		if timings {
			fmt.Fprintf(os.Stderr, "%s ", res.Path)
			fmt.Fprint(os.Stderr, summaryOf(res))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d functions failed to convert", failed, len(results))
	}
	return nil
}

func summaryOf(res *driver.Result) string {
	out := "timings:\n"
	for _, p := range res.Timing.Phases {
		out += fmt.Sprintf("  %-20s %7.2f ms", p.Name, p.DurationMS)
		if p.Note != "" {
			out += "  // " + p.Note
		}
		out += "\n"
	}
	out += fmt.Sprintf("  %-20s %7.2f ms\n", "total", res.Timing.TotalMS)
	return out
}
