package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	regionfix "github.com/mattkeenan/regionfix/pkg"
	"github.com/mattkeenan/regionfix/pkg/report"
)

// output prints results in the configured format.
type output struct {
	w      io.Writer
	json   bool
	shown  bool
	status io.Writer
}

func newOutput(w io.Writer, format string) *output {
	if w == nil {
		w = os.Stdout
	}
	return &output{
		w:      w,
		json:   strings.EqualFold(format, "json"),
		status: os.Stderr,
	}
}

// progress shows a running count on stderr in verbose human mode.
func (o *output) progress(p regionfix.Progress) {
	if o.json || regionfix.GetVerboseLevel() == 0 {
		return
	}
	o.shown = true
	fmt.Fprintf(o.status, "\rScanned %d/%d, %d problems", p.Done, p.Total, p.Counts.Problems())
}

func (o *output) endProgress() {
	if o.shown {
		fmt.Fprintln(o.status)
		o.shown = false
	}
}

// gridTotals adds up the chunk counts of every container in one grid.
type gridTotals struct {
	containers int
	faulty     int
	chunks     map[string]int
}

func totalsByGrid(ws *report.WorldSummary) ([]string, map[string]*gridTotals) {
	byGrid := make(map[string]*gridTotals)
	var names []string
	for _, cs := range ws.Containers {
		gt, ok := byGrid[cs.Grid]
		if !ok {
			gt = &gridTotals{chunks: make(map[string]int)}
			byGrid[cs.Grid] = gt
			names = append(names, cs.Grid)
		}
		gt.containers++
		if cs.Status != regionfix.RegionOK.String() {
			gt.faulty++
		}
		for st, n := range cs.Chunks {
			gt.chunks[st] += n
		}
	}
	sort.Strings(names)
	return names, byGrid
}

// problemStatuses lists the fault statuses present in a container summary.
func problemStatuses(cs report.ContainerSummary) []string {
	var out []string
	for _, st := range regionfix.ChunkStatuses() {
		if regionfix.FaultStatuses.Has(st) && cs.Chunks[st.String()] > 0 {
			out = append(out, fmt.Sprintf("%s=%d", st, cs.Chunks[st.String()]))
		}
	}
	return out
}

func (o *output) world(ws *report.WorldSummary, fixes fixCounts) error {
	if o.json {
		doc := struct {
			*report.WorldSummary
			Fixes *fixCounts `json:"fixes,omitempty"`
		}{WorldSummary: ws}
		if fixes.changed() {
			doc.Fixes = &fixes
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %v", err)
		}
		fmt.Fprintf(o.w, "%s\n", data)
		return nil
	}

	fmt.Fprintf(o.w, "World: %s (%s)\n", ws.Name, ws.Path)
	names, byGrid := totalsByGrid(ws)
	for _, name := range names {
		gt := byGrid[name]
		fmt.Fprintf(o.w, "\n%s: %d containers", name, gt.containers)
		if gt.faulty > 0 {
			fmt.Fprintf(o.w, ", %d unusable", gt.faulty)
		}
		fmt.Fprintln(o.w)
		for _, st := range regionfix.ChunkStatuses() {
			if n := gt.chunks[st.String()]; n > 0 {
				fmt.Fprintf(o.w, "  %-18s %d\n", st, n)
			}
		}
	}

	header := false
	for _, cs := range ws.Containers {
		faults := problemStatuses(cs)
		if cs.Status == regionfix.RegionOK.String() && len(faults) == 0 {
			continue
		}
		if !header {
			fmt.Fprintf(o.w, "\nProblems:\n")
			header = true
		}
		if cs.Status != regionfix.RegionOK.String() {
			fmt.Fprintf(o.w, "  %s: %s", cs.Key(), cs.Status)
			if cs.Err != "" {
				fmt.Fprintf(o.w, " (%s)", cs.Err)
			}
			fmt.Fprintln(o.w)
			continue
		}
		fmt.Fprintf(o.w, "  %s: %s\n", cs.Key(), strings.Join(faults, " "))
	}
	for _, df := range ws.DataFiles {
		if df.Status == regionfix.DataOK.String() {
			continue
		}
		if !header {
			fmt.Fprintf(o.w, "\nProblems:\n")
			header = true
		}
		fmt.Fprintf(o.w, "  %s: %s\n", df.Name, df.Status)
	}

	if fixes.changed() {
		fmt.Fprintf(o.w, "\nFixes:\n")
		fmt.Fprintf(o.w, "  containers replaced  %d\n", fixes.ContainersReplaced)
		fmt.Fprintf(o.w, "  data files replaced  %d\n", fixes.DataFilesReplaced)
		fmt.Fprintf(o.w, "  chunks replaced      %d\n", fixes.ChunksReplaced)
		fmt.Fprintf(o.w, "  chunks repaired      %d\n", fixes.ChunksRepaired)
		fmt.Fprintf(o.w, "  chunks removed       %d\n", fixes.ChunksRemoved)
	}
	fmt.Fprintf(o.w, "\nProblems remaining: %d\n", ws.Problems)
	return nil
}

func (o *output) worlds(worlds []string) error {
	if o.json {
		if worlds == nil {
			worlds = []string{}
		}
		data, err := json.MarshalIndent(worlds, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %v", err)
		}
		fmt.Fprintf(o.w, "%s\n", data)
		return nil
	}
	if len(worlds) == 0 {
		fmt.Fprintf(o.w, "No stored reports\n")
		return nil
	}
	for _, w := range worlds {
		fmt.Fprintln(o.w, w)
	}
	return nil
}
