package reduce

// Stats counts what the conversion did to one function.
type Stats struct {
	// InsertedInstrs counts instructions added by predication, predicate
	// definitions, spill traffic and loop plumbing.
	InsertedInstrs int

	// RemovedBranches counts branch instructions dropped during
	// linearization.
	RemovedBranches int

	// LoopCounters counts loops converted to counted form.
	LoopCounters int

	// MergedBlocks counts blocks spliced into their predecessor after
	// linearization.
	MergedBlocks int
}
