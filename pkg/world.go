package regionfix

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mattkeenan/regionfix/pkg/nbt"
	"github.com/mattkeenan/regionfix/pkg/region"
)

// ErrNotWorld is returned by LoadWorld for a directory with neither
// containers nor a level.dat.
var ErrNotWorld = errors.New("regionfix: not a world directory")

// GridKind is what a directory of containers stores.
type GridKind int

const (
	GridRegion GridKind = iota
	GridEntities
	GridPOI
)

var gridKindDirs = [...]string{
	GridRegion:   "region",
	GridEntities: "entities",
	GridPOI:      "poi",
}

func (k GridKind) String() string {
	if k >= 0 && int(k) < len(gridKindDirs) {
		return gridKindDirs[k]
	}
	return "unknown"
}

// Dimension directories relative to the world root
var dimensions = []struct {
	sub  string
	name string
}{
	{"", "overworld"},
	{"DIM-1", "nether"},
	{"DIM1", "end"},
}

// Grid is one directory of containers, e.g. the overworld's region/.
type Grid struct {
	Dir       string
	Kind      GridKind
	Dimension string

	containers map[string]*ScannedContainer
	names      []string
	counts     Counts
}

// NewGrid returns an empty grid for dir.
func NewGrid(dir string, kind GridKind, dimension string) *Grid {
	return &Grid{
		Dir:        dir,
		Kind:       kind,
		Dimension:  dimension,
		containers: make(map[string]*ScannedContainer),
	}
}

// LoadGrid lists the container files in dir.
func LoadGrid(dir string, kind GridKind, dimension string) (*Grid, error) {
	g := NewGrid(dir, kind, dimension)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".mca") && !strings.HasSuffix(name, ".mcr") {
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			VerboseLog(2, "skipping symlink %s", filepath.Join(dir, name))
			continue
		}
		g.add(NewScannedContainer(filepath.Join(dir, name), kind))
	}
	return g, nil
}

func (g *Grid) add(sc *ScannedContainer) {
	name := sc.Name()
	if _, ok := g.containers[name]; !ok {
		g.names = append(g.names, name)
		sort.Strings(g.names)
	}
	g.replaceContainer(sc)
}

// Name is the dimension and kind, e.g. "nether/region".
func (g *Grid) Name() string {
	return g.Dimension + "/" + g.Kind.String()
}

// Len returns the number of containers.
func (g *Grid) Len() int {
	return len(g.names)
}

// Containers returns the containers sorted by file name.
func (g *Grid) Containers() []*ScannedContainer {
	out := make([]*ScannedContainer, 0, len(g.names))
	for _, name := range g.names {
		out = append(out, g.containers[name])
	}
	return out
}

// Container returns the container with file name name.
func (g *Grid) Container(name string) (*ScannedContainer, bool) {
	sc, ok := g.containers[name]
	return sc, ok
}

// Counts returns the aggregate of all containers.
func (g *Grid) Counts() Counts {
	return g.counts
}

// Recount rebuilds the aggregate from the containers.
func (g *Grid) Recount() Counts {
	var c Counts
	for _, sc := range g.containers {
		c = c.Add(sc.Counts())
	}
	g.counts = c
	return c
}

// replaceContainer stores a scan result and returns the counts it replaced.
func (g *Grid) replaceContainer(sc *ScannedContainer) (prev Counts) {
	if old, ok := g.containers[sc.Name()]; ok {
		prev = old.Counts()
	}
	g.containers[sc.Name()] = sc
	g.counts = Fold(g.counts, prev, sc.Counts())
	return prev
}

// each runs fn on every container and folds the changed counts back.
func (g *Grid) each(fn func(sc *ScannedContainer) int) int {
	total := 0
	for _, name := range g.names {
		sc := g.containers[name]
		before := sc.Counts()
		total += fn(sc)
		g.counts = Fold(g.counts, before, sc.Counts())
	}
	return total
}

// RemoveChunks removes matching records from every container.
func (g *Grid) RemoveChunks(f *Fixer, statuses ChunkStatusSet) int {
	return g.each(func(sc *ScannedContainer) int { return f.RemoveChunks(sc, statuses) })
}

// RepairChunks repairs matching records in every container.
func (g *Grid) RepairChunks(f *Fixer, statuses ChunkStatusSet) int {
	return g.each(func(sc *ScannedContainer) int { return f.RepairContainer(sc, statuses) })
}

// ReplaceChunks replaces matching records from the backup grids.
func (g *Grid) ReplaceChunks(f *Fixer, backups []*Grid, statuses ChunkStatusSet) int {
	return g.each(func(sc *ScannedContainer) int { return f.ReplaceChunks(sc, backups, statuses) })
}

// ReplaceContainers replaces every container with a container-level fault.
func (g *Grid) ReplaceContainers(f *Fixer, backups []*Grid) int {
	return g.each(func(sc *ScannedContainer) int {
		if !sc.Scanned || sc.Status == RegionOK {
			return 0
		}
		if f.ReplaceContainer(sc, backups) {
			return 1
		}
		return 0
	})
}

// World is a save directory: its grids and side-car data files.
type World struct {
	Path      string
	Name      string
	Grids     []*Grid
	DataFiles []*ScannedDataFile

	counts Counts
}

// LoadWorld discovers the grids and data files under path. Nothing is
// scanned yet.
func LoadWorld(path string) (*World, error) {
	defer VerboseEnter()()

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open world %s", path)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrNotWorld, "%s is not a directory", path)
	}

	w := &World{Path: path, Name: filepath.Base(path)}
	for _, dim := range dimensions {
		for kind := GridRegion; kind <= GridPOI; kind++ {
			dir := filepath.Join(path, dim.sub, kind.String())
			if st, err := os.Stat(dir); err != nil || !st.IsDir() {
				continue
			}
			g, err := LoadGrid(dir, kind, dim.name)
			if err != nil {
				pathLog(dir).Warnf("grid skipped: %v", err)
				continue
			}
			w.Grids = append(w.Grids, g)
			VerboseLog(2, "found %s with %d containers", g.Name(), g.Len())
		}
	}

	level := filepath.Join(path, LevelDatName)
	if _, err := os.Stat(level); err == nil {
		w.DataFiles = append(w.DataFiles, NewScannedDataFile(level, nbt.FramingGzip))
		if name := levelName(level); name != "" {
			w.Name = name
		}
	}
	for _, sub := range []string{"data", "players", "playerdata"} {
		matches, _ := filepath.Glob(filepath.Join(path, sub, "*.dat"))
		sort.Strings(matches)
		for _, m := range matches {
			w.DataFiles = append(w.DataFiles, NewScannedDataFile(m, dataFileFraming(sub, filepath.Base(m))))
		}
	}

	if len(w.Grids) == 0 && len(w.DataFiles) == 0 {
		return nil, errors.Wrapf(ErrNotWorld, "%s", path)
	}
	w.Recount()
	return w, nil
}

// rawDataFiles are side-car files written without gzip framing. The mode
// comes from the name alone; file contents are never sniffed.
var rawDataFiles = map[string]bool{
	"data/idcounts.dat": true,
}

// dataFileFraming returns the framing of the side-car file name in sub.
func dataFileFraming(sub, name string) nbt.Framing {
	if rawDataFiles[sub+"/"+name] {
		return nbt.FramingNone
	}
	return nbt.FramingGzip
}

// levelName reads Data.LevelName from level.dat, or "" if unavailable.
func levelName(path string) string {
	root, _, err := nbt.ReadFile(path, nbt.FramingGzip)
	if err != nil {
		return ""
	}
	data, ok := root.GetCompound("Data")
	if !ok {
		return ""
	}
	if tag, ok := data.Get("LevelName"); ok {
		if s, ok := tag.(nbt.String); ok {
			return string(s)
		}
	}
	return ""
}

// Grid returns the grid of the given kind and dimension, or nil.
func (w *World) Grid(kind GridKind, dimension string) *Grid {
	for _, g := range w.Grids {
		if g.Kind == kind && g.Dimension == dimension {
			return g
		}
	}
	return nil
}

// Counts returns the aggregate of all grids and data files.
func (w *World) Counts() Counts {
	return w.counts
}

// Recount rebuilds every aggregate from the scanned items.
func (w *World) Recount() Counts {
	var c Counts
	for _, g := range w.Grids {
		c = c.Add(g.Recount())
	}
	for _, df := range w.DataFiles {
		c = c.Add(df.Counts())
	}
	w.counts = c
	return c
}

// HasProblems reports whether anything in the world is faulty.
func (w *World) HasProblems() bool {
	return w.counts.Problems() > 0
}

func (w *World) replaceContainer(g *Grid, sc *ScannedContainer) {
	prev := g.replaceContainer(sc)
	w.counts = Fold(w.counts, prev, sc.Counts())
}

func (w *World) replaceDataFile(df *ScannedDataFile) {
	for i, old := range w.DataFiles {
		if old.Path == df.Path {
			w.counts = Fold(w.counts, old.Counts(), df.Counts())
			w.DataFiles[i] = df
			return
		}
	}
	w.DataFiles = append(w.DataFiles, df)
	w.counts = w.counts.Add(df.Counts())
}

// WorkItems lists one scan job per container and data file.
func (w *World) WorkItems() []WorkItem {
	var items []WorkItem
	for _, g := range w.Grids {
		for _, sc := range g.Containers() {
			items = append(items, WorkItem{Path: sc.Path, Kind: g.Kind, world: w, grid: g})
		}
	}
	for _, df := range w.DataFiles {
		items = append(items, WorkItem{Path: df.Path, Framing: df.Framing, world: w, data: true})
	}
	return items
}

// BackupGrids returns, for each backup world in order, its grid matching
// g's kind and dimension.
func (w *World) BackupGrids(backups []*World, g *Grid) []*Grid {
	var out []*Grid
	for _, b := range backups {
		if bg := b.Grid(g.Kind, g.Dimension); bg != nil {
			out = append(out, bg)
		}
	}
	return out
}

// eachGrid runs fn on every grid and folds the changed counts back.
func (w *World) eachGrid(fn func(g *Grid) int) int {
	total := 0
	for _, g := range w.Grids {
		before := g.Counts()
		total += fn(g)
		w.counts = Fold(w.counts, before, g.Counts())
	}
	return total
}

// RemoveChunks removes matching records in every grid.
func (w *World) RemoveChunks(f *Fixer, statuses ChunkStatusSet) int {
	return w.eachGrid(func(g *Grid) int { return g.RemoveChunks(f, statuses) })
}

// RepairChunks repairs matching records in every grid.
func (w *World) RepairChunks(f *Fixer, statuses ChunkStatusSet) int {
	return w.eachGrid(func(g *Grid) int { return g.RepairChunks(f, statuses) })
}

// ReplaceChunks replaces matching records from the backup worlds.
func (w *World) ReplaceChunks(f *Fixer, backups []*World, statuses ChunkStatusSet) int {
	return w.eachGrid(func(g *Grid) int {
		return g.ReplaceChunks(f, w.BackupGrids(backups, g), statuses)
	})
}

// ReplaceContainers replaces faulty containers from the backup worlds.
func (w *World) ReplaceContainers(f *Fixer, backups []*World) int {
	return w.eachGrid(func(g *Grid) int {
		return g.ReplaceContainers(f, w.BackupGrids(backups, g))
	})
}

// ReplaceDataFiles replaces faulty data files with the same file from the
// first backup world where it decodes.
func (w *World) ReplaceDataFiles(backups []*World) int {
	replaced := 0
	for i, df := range w.DataFiles {
		if !df.Scanned || df.Status == DataOK {
			continue
		}
		rel, err := filepath.Rel(w.Path, df.Path)
		if err != nil {
			continue
		}
		for _, b := range backups {
			src := filepath.Join(b.Path, rel)
			if ScanDataFile(src, df.Framing).Status != DataOK {
				VerboseLog(1, "%s: backup %s skipped", df.Name(), src)
				continue
			}
			if err := region.CopyFile(src, df.Path); err != nil {
				pathLog(df.Path).Warnf("copy from %s failed: %v", src, err)
				break
			}
			fresh := ScanDataFile(df.Path, df.Framing)
			w.counts = Fold(w.counts, df.Counts(), fresh.Counts())
			w.DataFiles[i] = fresh
			replaced++
			break
		}
	}
	return replaced
}
