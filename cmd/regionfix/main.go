// Command regionfix scans a world save for damaged chunk containers and
// optionally repairs, replaces or removes what it finds.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	regionfix "github.com/mattkeenan/regionfix/pkg"
	"github.com/mattkeenan/regionfix/pkg/report"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

// exitProblems is the exit status when problems remain after a scan.
const exitProblems = 1

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "regionfix: %v\n", err)
		var cpe *regionfix.ChildProcessError
		if errors.As(err, &cpe) && regionfix.GetVerboseLevel() > 0 {
			fmt.Fprintf(os.Stderr, "%s\n", cpe.Trace())
		}
		os.Exit(2)
	}
}

func newApp() *cli.App {
	// -v is the verbose level here, so --version keeps only its long form.
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}
	app := &cli.App{
		Name:    "regionfix",
		Usage:   "Scan and repair chunk containers of a world save",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Config file path", Value: regionfix.DefaultConfigPath(), EnvVars: []string{"REGIONFIX_CONFIG"}},
			&cli.StringSliceFlag{Name: "set", Usage: "Override a config value, e.g. --set workers:4 (repeatable)"},
			&cli.IntFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Verbose level (0-3)"},
			&cli.StringFlag{Name: "format", Usage: "Output format (human|json), default from config"},
		},
		Before: setup,
		Commands: []*cli.Command{
			scanCommand(),
			reportCommand(),
			worldsCommand(),
		},
	}
	return app
}

// setup loads the configuration and applies logging settings before any
// command runs. The loaded config is kept in the app metadata.
func setup(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.ApplyOverrides(c.StringSlice("set")); err != nil {
		return err
	}
	if c.IsSet("format") {
		if err := cfg.ApplyOverrides([]string{"format:" + c.String("format")}); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	regionfix.ApplyVerboseConfig(cfg.GetVerboseConfig(), c.Int("verbose"))
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata["config"] = cfg
	return nil
}

// loadConfig reads the config file, falling back to the built-in defaults
// when the file cannot be created (read-only home, for example).
func loadConfig(path string) (*regionfix.Config, error) {
	cfg, err := regionfix.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	regionfix.VerboseLog(1, "using default configuration: %v", err)
	return regionfix.NewDefaultConfig(), nil
}

func configFrom(c *cli.Context) *regionfix.Config {
	if cfg, ok := c.App.Metadata["config"].(*regionfix.Config); ok {
		return cfg
	}
	return regionfix.NewDefaultConfig()
}

// parseStatuses turns a flag value into a status set. "all" selects every
// fault status and "repairable" the ones a repair can fix.
func parseStatuses(value string) (regionfix.ChunkStatusSet, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return 0, nil
	case "all":
		return regionfix.FaultStatuses, nil
	case "repairable":
		return regionfix.RepairableStatuses, nil
	}
	set, err := regionfix.ParseChunkStatusSet(value)
	if err != nil {
		return 0, err
	}
	if set.Has(regionfix.ChunkOK) || set.Has(regionfix.ChunkNotCreated) {
		return 0, errors.Errorf("%q selects healthy records", value)
	}
	return set, nil
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Scan a world and optionally fix what is found",
		ArgsUsage: "<world-dir>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "Number of scan workers"},
			&cli.IntFlag{Name: "entity-limit", Usage: "Entities above this mark a record"},
			&cli.BoolFlag{Name: "delete-entities", Usage: "Empty over-limit entity lists while scanning"},
			&cli.StringFlag{Name: "repair", Usage: "Repair records with these statuses (comma list, 'repairable' or 'all')"},
			&cli.StringFlag{Name: "replace", Usage: "Replace records with these statuses from the backups"},
			&cli.BoolFlag{Name: "replace-containers", Usage: "Replace unreadable containers and data files from the backups"},
			&cli.StringFlag{Name: "remove", Usage: "Remove records with these statuses (comma list or 'all')"},
			&cli.StringSliceFlag{Name: "backup", Aliases: []string{"b"}, Usage: "Backup world directory, tried in order (repeatable)"},
			&cli.BoolFlag{Name: "no-safety-copy", Usage: "Do not copy containers aside before changing them"},
			&cli.StringFlag{Name: "report-db", Usage: "Store the result in this report database"},
		},
		Action: runScan,
	}
}

// scanPlan is what the scan command was asked to do.
type scanPlan struct {
	opts              regionfix.ScanOptions
	repair            regionfix.ChunkStatusSet
	replace           regionfix.ChunkStatusSet
	remove            regionfix.ChunkStatusSet
	replaceContainers bool
	safetyCopy        bool
	backups           []string
}

func planFrom(c *cli.Context, cfg *regionfix.Config) (*scanPlan, error) {
	p := &scanPlan{
		opts:              cfg.GetScanConfig().ScanOptions(),
		replaceContainers: c.Bool("replace-containers"),
		safetyCopy:        cfg.GetRepairConfig().BackupBeforeRepair && !c.Bool("no-safety-copy"),
		backups:           c.StringSlice("backup"),
	}
	if c.IsSet("workers") {
		p.opts.Workers = c.Int("workers")
	}
	if c.IsSet("entity-limit") {
		p.opts.EntityLimit = c.Int("entity-limit")
	}
	if c.IsSet("delete-entities") {
		p.opts.DeleteEntities = c.Bool("delete-entities")
	}
	if err := regionfix.ValidateWorkers(p.opts.Workers); err != nil {
		return nil, err
	}
	if err := regionfix.ValidateEntityLimit(p.opts.EntityLimit); err != nil {
		return nil, err
	}

	var err error
	if p.repair, err = parseStatuses(c.String("repair")); err != nil {
		return nil, errors.Wrap(err, "--repair")
	}
	if p.replace, err = parseStatuses(c.String("replace")); err != nil {
		return nil, errors.Wrap(err, "--replace")
	}
	if p.remove, err = parseStatuses(c.String("remove")); err != nil {
		return nil, errors.Wrap(err, "--remove")
	}
	if (p.replace != 0 || p.replaceContainers) && len(p.backups) == 0 {
		return nil, errors.New("--replace and --replace-containers need at least one --backup")
	}
	return p, nil
}

func runScan(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("scan needs exactly one world directory", 2)
	}
	cfg := configFrom(c)
	plan, err := planFrom(c, cfg)
	if err != nil {
		return err
	}

	w, err := regionfix.LoadWorld(c.Args().First())
	if err != nil {
		return err
	}
	var backups []*regionfix.World
	for _, dir := range plan.backups {
		b, err := regionfix.LoadWorld(dir)
		if err != nil {
			return errors.Wrapf(err, "backup %s", dir)
		}
		backups = append(backups, b)
	}

	ctx, cancel := setupSignalHandler(context.Background())
	defer cancel()

	out := newOutput(c.App.Writer, cfg.GetOutputConfig().Format)
	run := regionfix.NewWorldScan(w, plan.opts)
	if err := run.Run(ctx, out.progress); err != nil {
		return err
	}
	out.endProgress()

	fixes := applyFixes(w, backups, plan)

	if path := reportPath(c, cfg); path != "" {
		if err := saveReport(path, w); err != nil {
			// The scan itself succeeded; the report is a convenience.
			regionfix.Logger().WithField("path", path).Warnf("report not saved: %v", err)
		}
	}

	if err := out.world(report.Summarize(w), fixes); err != nil {
		return err
	}
	if w.HasProblems() {
		return cli.Exit("", exitProblems)
	}
	return nil
}

// fixCounts records how many items each fix step changed.
type fixCounts struct {
	ContainersReplaced int `json:"containers_replaced"`
	DataFilesReplaced  int `json:"data_files_replaced"`
	ChunksReplaced     int `json:"chunks_replaced"`
	ChunksRepaired     int `json:"chunks_repaired"`
	ChunksRemoved      int `json:"chunks_removed"`
}

func (f fixCounts) changed() bool {
	return f != fixCounts{}
}

// applyFixes runs the requested steps from the least to the most
// destructive: whole-file replacement, record replacement, repair, removal.
func applyFixes(w *regionfix.World, backups []*regionfix.World, plan *scanPlan) fixCounts {
	var fc fixCounts
	f := regionfix.NewFixer(plan.opts, plan.safetyCopy)
	if plan.replaceContainers {
		fc.ContainersReplaced = w.ReplaceContainers(f, backups)
		fc.DataFilesReplaced = w.ReplaceDataFiles(backups)
	}
	if plan.replace != 0 {
		fc.ChunksReplaced = w.ReplaceChunks(f, backups, plan.replace)
	}
	if plan.repair != 0 {
		fc.ChunksRepaired = w.RepairChunks(f, plan.repair)
	}
	if plan.remove != 0 {
		fc.ChunksRemoved = w.RemoveChunks(f, plan.remove)
	}
	return fc
}

func reportPath(c *cli.Context, cfg *regionfix.Config) string {
	if c.IsSet("report-db") {
		return c.String("report-db")
	}
	return cfg.GetReportConfig().Path
}

func saveReport(path string, w *regionfix.World) error {
	store, err := report.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(w)
}

func openReport(c *cli.Context) (*report.Store, error) {
	path := reportPath(c, configFrom(c))
	if path == "" {
		return nil, errors.New("no report database configured, use --report-db or [report] path")
	}
	return report.Open(path)
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Show the stored result of the last scan of a world",
		ArgsUsage: "<world-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "report-db", Usage: "Report database path"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("report needs exactly one world directory", 2)
			}
			store, err := openReport(c)
			if err != nil {
				return err
			}
			defer store.Close()

			ws, err := store.LoadWorld(c.Args().First())
			if err != nil {
				return err
			}
			out := newOutput(c.App.Writer, configFrom(c).GetOutputConfig().Format)
			return out.world(ws, fixCounts{})
		},
	}
}

func worldsCommand() *cli.Command {
	return &cli.Command{
		Name:  "worlds",
		Usage: "List the worlds held in the report database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "report-db", Usage: "Report database path"},
		},
		Action: func(c *cli.Context) error {
			store, err := openReport(c)
			if err != nil {
				return err
			}
			defer store.Close()

			worlds, err := store.Worlds()
			if err != nil {
				return err
			}
			out := newOutput(c.App.Writer, configFrom(c).GetOutputConfig().Format)
			return out.worlds(worlds)
		},
	}
}
