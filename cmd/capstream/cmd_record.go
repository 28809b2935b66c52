package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/capstream/pkg/capstream/dispatch"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
	"github.com/randalmurphal/capstream/pkg/capstream/producer"
	"github.com/randalmurphal/capstream/pkg/capstream/session"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

var recordOpts struct {
	name         string
	duration     time.Duration
	screenFPS    float64
	width        int
	height       int
	audioChunks  float64
	inputMin     time.Duration
	inputMax     time.Duration
	runtimeEvery time.Duration
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordOpts.name, "name", "", "session name (default: UTC start time)")
	f.DurationVarP(&recordOpts.duration, "duration", "d", 0, "stop after this long (default: until interrupted)")
	f.Float64Var(&recordOpts.screenFPS, "screen-fps", 30, "synthetic screen frames per second (0 disables)")
	f.IntVar(&recordOpts.width, "width", 1280, "synthetic frame width")
	f.IntVar(&recordOpts.height, "height", 720, "synthetic frame height")
	f.Float64Var(&recordOpts.audioChunks, "audio-chunks", 10, "synthetic audio chunks per second (0 disables)")
	f.DurationVar(&recordOpts.inputMin, "input-min", 5*time.Millisecond, "shortest gap between input events")
	f.DurationVar(&recordOpts.inputMax, "input-max", 200*time.Millisecond, "longest gap between input events (0 disables input)")
	f.DurationVar(&recordOpts.runtimeEvery, "runtime-stats", 0, "emit recorder runtime stats at this interval")
	rootCmd.AddCommand(recordCmd)
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session from synthetic producers",
	Args:  cobra.NoArgs,
	RunE:  runRecord,
}

func syntheticSources() []producer.Source {
	var sources []producer.Source
	if recordOpts.screenFPS > 0 {
		sources = append(sources, producer.NewTicker("screen", envelope.SourceScreen, recordOpts.screenFPS,
			producer.ScreenFrames(recordOpts.width, recordOpts.height)))
	}
	if recordOpts.audioChunks > 0 {
		frames := int(16000 / recordOpts.audioChunks)
		sources = append(sources, producer.NewTicker("audio", envelope.SourceAudio, recordOpts.audioChunks,
			producer.AudioChunks(16000, 1, frames)))
	}
	if recordOpts.inputMax > 0 {
		sources = append(sources, producer.NewIrregular("input", envelope.SourceInput,
			recordOpts.inputMin, recordOpts.inputMax, producer.InputEvents()))
	}
	if recordOpts.runtimeEvery > 0 {
		sources = append(sources, producer.NewRuntimeStats(recordOpts.runtimeEvery))
	}
	return sources
}

func runRecord(cmd *cobra.Command, _ []string) error {
	p, logger, err := loadPipeline()
	if err != nil {
		return err
	}
	store, err := openStore(p)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := session.NewManager(session.ManagerConfig{
		Store:   store,
		Logger:  logger,
		Metrics: observability.NewMetricsRecorder(),
		Tracer:  observability.NewSpanManager(),
	})
	if recovered, err := mgr.Recover(); err != nil {
		logger.Warn("recover sessions", slog.String("error", err.Error()))
	} else if len(recovered) > 0 {
		logger.Info("marked interrupted sessions failed", slog.Int("count", len(recovered)))
	}

	cfg, err := session.FromPipeline(p, sink.DefaultRegistry(), syntheticSources()...)
	if err != nil {
		return err
	}
	cfg.Name = recordOpts.name
	cfg.OnHealth = func(ev dispatch.HealthEvent) {
		logger.Info("sink health", slog.String("sink", ev.Sink), slog.String("health", string(ev.Health)))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := mgr.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	logger.Info("recording", slog.String("session_id", s.ID()), slog.String("name", s.Name()))
	for name, h := range s.CheckHealth(ctx) {
		if h != sink.HealthOK {
			logger.Warn("sink unhealthy at start", slog.String("sink", name), slog.String("health", string(h)))
		}
	}

	var deadline <-chan time.Time
	if recordOpts.duration > 0 {
		timer := time.NewTimer(recordOpts.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
	case <-deadline:
	case <-s.Done():
	}

	if s.State() == session.StateActive || s.State() == session.StatePaused {
		if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	printSummary(cmd.OutOrStdout(), s)
	if s.State() == session.StateFailed {
		return fmt.Errorf("session %s failed: %w", s.ID(), s.Err())
	}
	return nil
}

func printSummary(out io.Writer, s *session.Session) {
	fmt.Fprintf(out, "session %s (%s): %s\n\n", s.Name(), s.ID(), s.State())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCER\tPUBLISHED\tDROPPED\tLAST SEQ")
	for name, st := range s.ProducerStats() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", name, st.Published, st.Dropped, st.LastSeq)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SINK\tDELIVERED\tLOST\tDEGRADED\tDETACHED")
	for _, c := range s.Cursors() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%t\n", c.Sink, c.Delivered, c.Lost, c.Degraded, c.Detached)
	}
	_ = w.Flush()

	bs := s.BusStats()
	fmt.Fprintf(out, "\nbus: %d admitted, %d retained (%s)\n", bs.Admitted, bs.Retained, humanize.IBytes(uint64(bs.Bytes)))
	for _, g := range s.Gaps() {
		fmt.Fprintf(out, "gap: %s seq %d-%d (%d, %s)\n", g.Source, g.First, g.Last, g.Count(), g.Reason)
	}
	for _, l := range s.Losses() {
		fmt.Fprintf(out, "loss: %s offsets %d-%d (%d envelopes, %s, %s)\n",
			l.Sink, l.FirstOffset, l.LastOffset, l.Count, humanize.IBytes(uint64(l.Bytes)), l.Reason)
	}
}
