package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/parser"
)

func TestFormatFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, flag string
		want       parser.Format
		wantErr    bool
	}{
		{path: "clip.ts", want: parser.FormatContainer},
		{path: "clip.264", want: parser.FormatAnnexBAVC},
		{path: "dir/clip.HEVC", want: parser.FormatAnnexBHEVC},
		{path: "capture.pcap", want: parser.FormatCapture},
		{path: "clip.bin", flag: "m2v", want: parser.FormatAnnexBMPEG2},
		{path: "clip.bin", wantErr: true},
		{path: "clip", wantErr: true},
		{path: "clip.ts", flag: "mkv", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path+"/"+tt.flag, func(t *testing.T) {
			t.Parallel()
			got, err := formatFor(tt.path, tt.flag)
			if tt.wantErr {
				if !errors.Is(err, parser.ErrUnknownFormat) {
					t.Fatalf("got err %v, want ErrUnknownFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRates(t *testing.T) {
	t.Parallel()
	segs := []bitrate.Segment{
		{Start: 0, End: 1000, Bytes: 1000},
		{Start: 1000, End: 1500, Bytes: 1000},
		{Start: 2000, End: 2000, Bytes: 5000},
	}
	avg, peak := rates(segs)
	// 2000 bytes over 1500 ms, peak 8000 bits over 500 ms.
	if want := 16000.0 / 1500; avg != want {
		t.Errorf("avg: got %v, want %v", avg, want)
	}
	if peak != 16 {
		t.Errorf("peak: got %v, want 16", peak)
	}
	if avg, peak := rates(nil); avg != 0 || peak != 0 {
		t.Errorf("empty: got %v, %v", avg, peak)
	}
}

func writeSlices(t *testing.T, n int) string {
	t.Helper()
	var b []byte
	for i := 0; i < n; i++ {
		b = append(b, 0x00, 0x00, 0x01, 0x01, 0x12, 0x34, 0x56)
	}
	path := filepath.Join(t.TempDir(), "slices.m2v")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyzeJSON(t *testing.T) {
	t.Parallel()
	path := writeSlices(t, 30)
	var stdout, stderr bytes.Buffer
	err := runAnalyze(context.Background(), path, analyzeOptions{jsonOut: true, errors: 5}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	var rep struct {
		Status struct {
			State string `json:"state"`
			Units int    `json:"units"`
		} `json:"status"`
		Streams []struct {
			Bytes uint64 `json:"bytes"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("decode %s: %v", stdout.String(), err)
	}
	if rep.Status.State != "completed" || rep.Status.Units != 30 {
		t.Errorf("status: got %+v", rep.Status)
	}
	if len(rep.Streams) != 1 || rep.Streams[0].Bytes != 210 {
		t.Errorf("streams: got %+v", rep.Streams)
	}
	if stderr.Len() != 0 {
		t.Errorf("json mode wrote progress: %q", stderr.String())
	}
}

func TestAnalyzeText(t *testing.T) {
	t.Parallel()
	path := writeSlices(t, 10)
	var stdout, stderr bytes.Buffer
	if err := runAnalyze(context.Background(), path, analyzeOptions{}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	out := stdout.String()
	for _, want := range []string{"(mpeg2)", "state      completed", "units      10", "Bitrate"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(stderr.String(), "Parsing done.") {
		t.Errorf("stderr: got %q", stderr.String())
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "absent.ts")
	var stdout, stderr bytes.Buffer
	err := runAnalyze(context.Background(), path, analyzeOptions{quiet: true}, &stdout, &stderr)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want os.ErrNotExist", err)
	}
	if !strings.Contains(stdout.String(), "state      failed") {
		t.Errorf("output: got %q", stdout.String())
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "bitlens ") {
		t.Errorf("got %q", out.String())
	}
}
