package regionfix

// Counts is an additive summary of scan results. Aggregates are kept by
// subtracting an item's previous Counts and adding its new ones, so the
// order in which results arrive does not matter.
type Counts struct {
	Chunks          [numChunkStatuses]int
	Regions         [numRegionStatuses]int
	Data            [numDataStatuses]int
	EntitiesRemoved int
}

// Add returns c + o.
func (c Counts) Add(o Counts) Counts {
	for i := range c.Chunks {
		c.Chunks[i] += o.Chunks[i]
	}
	for i := range c.Regions {
		c.Regions[i] += o.Regions[i]
	}
	for i := range c.Data {
		c.Data[i] += o.Data[i]
	}
	c.EntitiesRemoved += o.EntitiesRemoved
	return c
}

// Sub returns c - o.
func (c Counts) Sub(o Counts) Counts {
	for i := range c.Chunks {
		c.Chunks[i] -= o.Chunks[i]
	}
	for i := range c.Regions {
		c.Regions[i] -= o.Regions[i]
	}
	for i := range c.Data {
		c.Data[i] -= o.Data[i]
	}
	c.EntitiesRemoved -= o.EntitiesRemoved
	return c
}

// Fold replaces prev with next inside agg.
func Fold(agg, prev, next Counts) Counts {
	return agg.Sub(prev).Add(next)
}

// Chunk returns the number of slots with status s.
func (c Counts) Chunk(s ChunkStatus) int {
	if s < 0 || s >= numChunkStatuses {
		return 0
	}
	return c.Chunks[s]
}

// Region returns the number of containers with status s.
func (c Counts) Region(s RegionStatus) int {
	if s < 0 || s >= numRegionStatuses {
		return 0
	}
	return c.Regions[s]
}

// DataFile returns the number of side-car files with status s.
func (c Counts) DataFile(s DataStatus) int {
	if s < 0 || s >= numDataStatuses {
		return 0
	}
	return c.Data[s]
}

// Problems returns the number of faulty slots, containers and data files.
func (c Counts) Problems() int {
	n := 0
	for s := ChunkStatus(0); s < numChunkStatuses; s++ {
		if FaultStatuses.Has(s) {
			n += c.Chunks[s]
		}
	}
	for s := RegionStatus(1); s < numRegionStatuses; s++ {
		n += c.Regions[s]
	}
	for s := DataStatus(1); s < numDataStatuses; s++ {
		n += c.Data[s]
	}
	return n
}
