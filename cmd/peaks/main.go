// Command peaks finds and tracks point-like spots in a directory of image
// frames, archives accepted trajectories to SQLite and optionally writes
// plots and an HTML report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/banshee-data/peaks.report/internal/config"
	"github.com/banshee-data/peaks.report/internal/db"
	"github.com/banshee-data/peaks.report/internal/monitoring"
	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"github.com/banshee-data/peaks.report/internal/peaks/l3grid"
	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
	"github.com/banshee-data/peaks.report/internal/peaks/monitor"
	"github.com/banshee-data/peaks.report/internal/peaks/pipeline"
	"github.com/banshee-data/peaks.report/internal/peaks/storage/sqlite"
	"github.com/banshee-data/peaks.report/internal/timeutil"
	"github.com/banshee-data/peaks.report/internal/units"
	"github.com/banshee-data/peaks.report/internal/version"
)

type options struct {
	frames   string
	config   string
	dbPath   string
	metadata string
	workers  int
	exclude  string
	plots    string
	report   string
	verbose  bool
	preview  int64
	seed     int64
	logLevel string
	list     string
	version  bool

	set   map[string]bool // flags given explicitly on the command line
	clock timeutil.Clock  // times the run and stamps the archive; nil is the wall clock
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.frames, "frames", "", "Directory of image frames (required)")
	fs.StringVar(&o.config, "config", "", "Tuning config JSON (defaults to "+config.DefaultConfigPath+")")
	fs.StringVar(&o.dbPath, "db", "", "SQLite archive path; empty skips archiving")
	fs.StringVar(&o.metadata, "metadata", "", "Metadata/image UID stored with trajectories (defaults to the frame directory name)")
	fs.IntVar(&o.workers, "workers", 0, "Worker count; 0 uses GOMAXPROCS")
	fs.StringVar(&o.exclude, "exclude", "", "Frames to skip, e.g. \"3,7-9\"")
	fs.StringVar(&o.plots, "plots", "", "Directory for PNG trajectory plots")
	fs.StringVar(&o.report, "report", "", "Path of an HTML trajectory report")
	fs.BoolVar(&o.verbose, "verbose", false, "Keep uncorrected intensity and mean background")
	fs.Int64Var(&o.preview, "preview", -1, "Only detect peaks in this frame and print them")
	fs.Int64Var(&o.seed, "seed", 0, "Seed for reproducible trajectory IDs; 0 uses random UUIDs")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn, error, disabled")
	fs.StringVar(&o.list, "list", "", "Print trajectories archived for -metadata in this unit ("+units.GetValidUnitsString()+") and exit; needs -db")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if o.version {
		return o, nil
	}
	if o.list != "" {
		if !units.IsValid(o.list) {
			return nil, fmt.Errorf("-list: invalid unit %q, must be one of %s", o.list, units.GetValidUnitsString())
		}
		if o.dbPath == "" {
			return nil, errors.New("-list needs -db")
		}
		if o.metadata == "" && o.frames == "" {
			return nil, errors.New("-list needs -metadata or -frames")
		}
	} else if o.frames == "" {
		return nil, errors.New("-frames is required")
	}
	if o.metadata == "" {
		o.metadata = filepath.Base(filepath.Clean(o.frames))
	}
	return o, nil
}

// tuning loads the config file (or the defaults) and applies flag overrides.
func (o *options) tuning() (*config.TuningConfig, error) {
	var (
		cfg *config.TuningConfig
		err error
	)
	if o.config != "" {
		cfg, err = config.LoadTuningConfig(o.config)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}
	if o.set["workers"] {
		cfg.Workers = &o.workers
	}
	if o.set["exclude"] {
		cfg.ExcludeFrames = &o.exclude
	}
	if o.set["verbose"] {
		cfg.Verbose = &o.verbose
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning config: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
	}
	var logger zerolog.Logger
	if out == nil {
		logger = monitoring.NewConsoleLogger(lvl)
	} else {
		logger = monitoring.NewZerolog(out, lvl)
	}

	s := monitoring.NewStreams(logger)
	l3grid.SetLogWriters(s.Ops, s.Diag, s.Trace)
	l4peaks.SetLogWriters(s.Ops, s.Diag, s.Trace)
	l5tracks.SetLogWriters(s.Ops, s.Diag, s.Trace)
	pipeline.SetLogWriters(s.Ops, s.Diag, s.Trace)
	sqlite.SetLogWriters(s.Ops, s.Diag, s.Trace)
	monitor.SetLogWriters(s.Ops, s.Diag, s.Trace)
	monitoring.SetLogger(monitoring.ZerologLogf(logger.With().Str("stream", "diag").Logger()))
	return logger, nil
}

func main() {
	fs := flag.NewFlagSet("peaks", flag.ExitOnError)
	o, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(2)
	}
	if o.version {
		fmt.Println(version.String("peaks"))
		return
	}

	logger, err := setupLogging(o.logLevel, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("peaks failed")
	}
}

func run(ctx context.Context, o *options, logger zerolog.Logger, stdout io.Writer) error {
	if o.list != "" {
		return list(ctx, o, stdout)
	}
	tuning, err := o.tuning()
	if err != nil {
		return err
	}
	src, err := l1frames.NewDirSource(o.frames)
	if err != nil {
		return err
	}

	clock := timeutil.OrReal(o.clock)
	p := pipeline.New(src, pipeline.ConfigFromTuning(tuning))
	p.Clock = clock
	if o.seed != 0 {
		p.IDs = l5tracks.NewSeededUUIDGenerator(o.seed)
	}

	if o.preview >= 0 {
		return preview(ctx, p, o.preview, stdout)
	}

	p.Progress = func(completed, total int64, message string) {
		logger.Debug().Int64("completed", completed).Int64("total", total).Msg(message)
	}

	var (
		store   *sqlite.ArchiveStore
		builder *sqlite.ArchiveBuilder
	)
	if o.dbPath != "" {
		database, err := db.NewDB(o.dbPath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer database.Close()

		store = sqlite.NewArchiveStore(database.DB)
		store.SetClock(clock)
		builder = sqlite.NewArchiveBuilder(store, o.metadata, tuning.GetPixelSize(), tuning.GetPixelUnit())
		if raw, err := json.Marshal(tuning); err == nil {
			builder.ConfigJSON = string(raw)
		}
		p.Sink = builder
	}

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Int("frames", len(res.Frames)).
		Int("cells", len(res.Cells)).
		Int("trajectories", len(res.Trajectories)).
		Int("accepted", len(res.Accepted)).
		Str("stats", res.Stats.String()).
		Dur("elapsed", res.Elapsed).
		Msg("run complete")

	if builder != nil && builder.RunID != "" {
		if err := store.UpdateRunStats(ctx, builder.RunID, int64(len(res.Frames)), res.Stats.Peaks, res.Stats.FailedTasks); err != nil {
			return err
		}
		logger.Info().Str("run_id", builder.RunID).Str("db", o.dbPath).Msg("archived")
	}

	if o.plots != "" {
		tp := monitor.NewTrajectoryPlotter(o.metadata)
		if err := tp.Start(o.plots); err != nil {
			return err
		}
		tp.Record(res.Accepted)
		tp.Stop()
		if _, err := tp.GeneratePlots(); err != nil {
			return fmt.Errorf("generate plots: %w", err)
		}
	}

	if o.report != "" {
		f, err := os.Create(o.report)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		if err := monitor.WriteReport(f, monitor.Report{
			Title:        o.metadata,
			Trajectories: res.Accepted,
			Stats:        res.Stats,
		}); err != nil {
			return err
		}
	}

	for _, tr := range res.Accepted {
		s := l5tracks.Summarize(tr)
		fmt.Fprintf(stdout, "%s\tframes=%d-%d\tlen=%d\tmean=(%.3f,%.3f)\tintensity=%.1f\tstep=%.3f\n",
			s.ID, s.FirstFrame, s.LastFrame, s.Length, s.MeanX, s.MeanY, s.MeanIntensity, s.MeanStep)
	}
	return nil
}

func preview(ctx context.Context, p *pipeline.Pipeline, frame int64, stdout io.Writer) error {
	peaks, stats, err := p.Preview(ctx, frame, p.Config.PreviewTimeout)
	if err != nil {
		return err
	}
	for _, pk := range peaks {
		fmt.Fprintf(stdout, "%d\t%.3f\t%.3f\t%s\t%.1f\t%.1f\n",
			pk.Frame, pk.X, pk.Y, pk.Sign, pk.Intensity(), pk.Background())
	}
	fmt.Fprintln(stdout, stats.String())
	return nil
}

// list prints archived trajectories for o.metadata with positions, offsets
// and steps converted to o.list, one line per point.
func list(ctx context.Context, o *options, stdout io.Writer) error {
	database, err := db.NewDB(o.dbPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer database.Close()

	trajs, err := sqlite.NewArchiveStore(database.DB).ListByMetadataInUnit(ctx, o.metadata, o.list)
	if err != nil {
		return err
	}
	for _, tr := range trajs {
		fmt.Fprintf(stdout, "%s\trun=%s\tframes=%d-%d\tlen=%d\tstep=%.4f %s\n",
			tr.UID, tr.RunID, tr.FirstFrame, tr.LastFrame, tr.Length, tr.MeanStep, o.list)
		for _, pt := range tr.Points {
			fmt.Fprintf(stdout, "\t%d\t%.4f\t%.4f\t%.1f\n", pt.Frame, pt.X, pt.Y, pt.Intensity)
		}
	}
	return nil
}
