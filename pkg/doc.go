// Package regionfix scans and repairs world saves made of region
// containers: fixed 32x32 grids of compressed tag-tree records.
//
// # Core API
//
// Discover a world and scan every container and data file in it:
//
//	w, err := regionfix.LoadWorld("/path/to/world")
//	run := regionfix.NewWorldScan(w, regionfix.DefaultScanOptions())
//	err = run.Run(ctx, nil)
//	fmt.Printf("%d problems\n", w.Counts().Problems())
//
// # Fixing
//
// A Fixer removes, repairs or replaces records by status:
//
//	f := regionfix.NewFixer(opts, true)
//	w.RepairChunks(f, regionfix.RepairableStatuses)
//	w.ReplaceChunks(f, backups, regionfix.FaultStatuses)
//	w.RemoveChunks(f, regionfix.NewChunkStatusSet(regionfix.ChunkCorrupted))
//
// Every mutation updates the in-memory results, so counts stay current
// without rescanning.
//
// # Configuration
//
// Enable debug output:
//
//	regionfix.SetDebugFlags("scan")
//	regionfix.SetVerboseLevel(2)
//
// The record codec lives in package nbt and the container format in
// package region.
package regionfix
