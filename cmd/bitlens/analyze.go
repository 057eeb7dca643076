package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/config"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/parser"
	"github.com/zsiec/bitlens/internal/session"
)

type analyzeOptions struct {
	format      string
	timeout     time.Duration
	frameRate   float64
	maxDetail   int
	window      time.Duration
	probeWindow int64
	eventBuffer int
	jsonOut     bool
	quiet       bool
	errors      int
}

func newAnalyzeCmd() *cobra.Command {
	var o analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Parse a file and print its stream info, bitrate and errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			flags := cmd.Flags()
			if !flags.Changed("frame-rate") {
				o.frameRate = cfg.FrameRate
			}
			if !flags.Changed("max-detail") {
				o.maxDetail = cfg.MaxDetailRows
			}
			if !flags.Changed("window") {
				o.window = cfg.BitrateWindow
			}
			if !flags.Changed("probe-window") {
				o.probeWindow = cfg.ProbeWindow
			}
			o.eventBuffer = cfg.EventBuffer
			return runAnalyze(cmd.Context(), args[0], o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", "", "input format (hevc, avc, mpeg2, ts, pcap); guessed from the extension when empty")
	f.DurationVar(&o.timeout, "timeout", 0, "cancel the parse after this long")
	f.Float64Var(&o.frameRate, "frame-rate", 0, "picture rate used to time elementary streams")
	f.IntVar(&o.maxDetail, "max-detail", 0, "detail rows kept before the oldest are dropped")
	f.DurationVar(&o.window, "window", 0, "bitrate segment length")
	f.Int64Var(&o.probeWindow, "probe-window", 0, "bytes searched for a first valid unit")
	f.BoolVar(&o.jsonOut, "json", false, "print the report as JSON")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "do not report progress")
	f.IntVar(&o.errors, "errors", 20, "malformed units to list")
	return cmd
}

// formatFor picks the input format from the flag, or from the file
// extension when the flag is empty.
func formatFor(path, flag string) (parser.Format, error) {
	if flag != "" {
		return parser.ParseFormat(flag)
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	f, err := parser.ParseFormat(ext)
	if err != nil {
		return parser.FormatUnknown, fmt.Errorf("cannot tell the format of %s, pass --format: %w", path, err)
	}
	return f, nil
}

func runAnalyze(ctx context.Context, path string, o analyzeOptions, stdout, stderr io.Writer) error {
	format, err := formatFor(path, o.format)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	c := session.New(format,
		session.WithLogger(slog.Default()),
		session.WithMaxDetail(o.maxDetail),
		session.WithWindow(o.window),
		session.WithFrameRate(o.frameRate),
		session.WithProbeWindow(o.probeWindow),
		session.WithEventBuffer(o.eventBuffer),
	)
	defer c.Close()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for ev := range c.Events() {
			if ev.Kind == session.Progress && !o.quiet && !o.jsonOut {
				fmt.Fprintf(stderr, "\r%s", session.StatusText(session.Running, ev.Percent, nil))
			}
		}
	}()

	if err := c.Start(path); err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			c.RequestCancel()
		case <-c.Done():
		}
	}()

	state, _ := c.Wait(context.Background())
	c.Close()
	<-progressDone
	if !o.quiet && !o.jsonOut {
		fmt.Fprintf(stderr, "\r%s\n", session.StatusText(state, c.ProgressPercent(), c.Err()))
	}

	rep := buildReport(c, o.errors)
	if o.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printReport(stdout, rep)
	}

	switch state {
	case session.Failed:
		return c.Err()
	case session.Cancelled:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("parse cancelled after %s", o.timeout)
		}
		return parser.ErrCancelled
	}
	return nil
}

type streamReport struct {
	Stream   int               `json:"stream"`
	Color    string            `json:"color"`
	Bytes    uint64            `json:"bytes"`
	Segments []bitrate.Segment `json:"segments"`
}

type report struct {
	Status  session.Status `json:"status"`
	Info    parser.Info    `json:"info"`
	Streams []streamReport `json:"streams"`
	Errors  []model.Entry  `json:"errors,omitempty"`
}

func buildReport(c *session.Controller, maxErrors int) report {
	rep := report{
		Status: c.Status(),
		Info:   c.StreamInfo(),
	}
	agg := c.Aggregator()
	for _, stream := range agg.Streams() {
		sr := streamReport{
			Stream:   stream,
			Bytes:    agg.Total(stream),
			Segments: agg.SegmentsFor(stream),
		}
		if idx := c.StreamColor(stream); idx >= 0 {
			sr.Color = session.Palette[idx]
		}
		rep.Streams = append(rep.Streams, sr)
	}
	if maxErrors > 0 {
		view := c.Filter(model.ErrorsOnly())
		m := c.Model()
		for _, id := range view.Rows(0, maxErrors) {
			if e, ok := m.Get(id); ok {
				rep.Errors = append(rep.Errors, e)
			}
		}
	}
	return rep
}

func printReport(w io.Writer, rep report) {
	st := rep.Status
	fmt.Fprintf(w, "%s (%s)\n", st.Path, st.Format)
	fmt.Fprintf(w, "  state      %s\n", st.State)
	fmt.Fprintf(w, "  units      %d (%d rows, %d malformed)\n", st.Units, st.Rows, st.Summary.Malformed)
	fmt.Fprintf(w, "  bytes      %d\n", st.Summary.Bytes)
	if st.Error != "" {
		fmt.Fprintf(w, "  error      %s\n", st.Error)
	}

	if len(rep.Info) > 0 {
		fmt.Fprintln(w, "\nStreams")
		printItems(w, rep.Info, 1)
	}

	if len(rep.Streams) > 0 {
		fmt.Fprintln(w, "\nBitrate")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  stream\tsegments\tbytes\tavg kbit/s\tpeak kbit/s")
		for _, s := range rep.Streams {
			avg, peak := rates(s.Segments)
			fmt.Fprintf(tw, "  %d\t%d\t%d\t%.1f\t%.1f\n", s.Stream, len(s.Segments), s.Bytes, avg, peak)
		}
		tw.Flush()
	}

	if len(rep.Errors) > 0 {
		fmt.Fprintln(w, "\nMalformed units")
		for _, e := range rep.Errors {
			fmt.Fprintf(w, "  @%d %s: %s\n", e.Offset, e.Name, e.Err)
		}
	}
}

func printItems(w io.Writer, items []parser.Item, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, it := range items {
		if it.Value != "" {
			fmt.Fprintf(w, "%s%s: %s\n", indent, it.Name, it.Value)
		} else {
			fmt.Fprintf(w, "%s%s\n", indent, it.Name)
		}
		printItems(w, it.Children, depth+1)
	}
}

// rates returns the mean and peak bitrate in kbit/s over segments that span
// time. Single-packet segments carry no duration and are skipped.
func rates(segs []bitrate.Segment) (avg, peak float64) {
	var bytes uint64
	var ms int64
	for _, s := range segs {
		d := s.Duration()
		if d == 0 {
			continue
		}
		bytes += s.Bytes
		ms += d
		if r := float64(s.Bytes*8) / float64(d); r > peak {
			peak = r
		}
	}
	if ms > 0 {
		avg = float64(bytes*8) / float64(ms)
	}
	return avg, peak
}
