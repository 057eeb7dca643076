// Command gen-fixtures writes synthetic MPEG-2 inputs for trying out the
// analyzer: an elementary stream, the same pictures in a transport stream,
// and that transport stream captured as UDP in a pcap file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/bitlens/test/tools/tsutil"
)

const (
	pmtPID   = 0x1000
	videoPID = 0x100
	// 90 kHz ticks per picture at 25 fps.
	frameTicks = 3600
	startPTS   = 90000
)

type fixture struct {
	File        string `json:"file"`
	Format      string `json:"format"`
	Bytes       int    `json:"bytes"`
	Pictures    int    `json:"pictures"`
	Corrupted   int    `json:"corrupted,omitempty"`
	Description string `json:"description"`
}

type manifest struct {
	Generated string    `json:"generated"`
	Seed      int64     `json:"seed"`
	Fixtures  []fixture `json:"fixtures"`
}

func main() {
	out := flag.String("out", "testdata/fixtures", "output directory")
	seconds := flag.Int("seconds", 10, "duration of the generated stream")
	gop := flag.Int("gop", 12, "pictures per group of pictures")
	corrupt := flag.Int("corrupt", 0, "also write a transport stream with every nth packet damaged")
	seed := flag.Int64("seed", 1, "random seed for picture sizes")
	flag.Parse()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fatal("create %s: %v", *out, err)
	}
	rng := rand.New(rand.NewSource(*seed))
	pictures := buildPictures(rng, *seconds*25, *gop)

	var es []byte
	for _, p := range pictures {
		es = append(es, p...)
	}
	ts := mux(pictures)

	m := manifest{Generated: time.Now().UTC().Format(time.RFC3339), Seed: *seed}
	add := func(name, format, desc string, data []byte, corrupted int) {
		path := filepath.Join(*out, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fatal("write %s: %v", path, err)
		}
		m.Fixtures = append(m.Fixtures, fixture{
			File: name, Format: format, Bytes: len(data), Pictures: len(pictures),
			Corrupted: corrupted, Description: desc,
		})
		fmt.Printf("  wrote %s (%d bytes)\n", path, len(data))
	}

	add("clip.m2v", "mpeg2", "MPEG-2 video elementary stream", es, 0)
	add("clip.ts", "ts", "single-program transport stream", ts, 0)
	capture, err := capturePCAP(ts, len(pictures))
	if err != nil {
		fatal("build capture: %v", err)
	}
	add("clip.pcap", "pcap", "transport stream over UDP multicast", capture, 0)
	if *corrupt > 0 {
		damaged := append([]byte(nil), ts...)
		n := tsutil.Corrupt(damaged, *corrupt)
		add("clip-corrupt.ts", "ts", fmt.Sprintf("transport stream with every %dth sync byte cleared", *corrupt), damaged, n)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fatal("encode manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(*out, "manifest.json"), append(data, '\n'), 0o644); err != nil {
		fatal("write manifest: %v", err)
	}
}

// mux carries one picture per PES packet, preceded by a PAT and PMT that
// repeat every second.
func mux(pictures [][]byte) []byte {
	m := tsutil.NewMuxer(pmtPID, videoPID)
	var ts []byte
	for i, pic := range pictures {
		if i%25 == 0 {
			ts = append(ts, m.PAT()...)
			ts = append(ts, m.PMT(tsutil.Stream{Type: 0x02, PID: videoPID})...)
		}
		ts = append(ts, m.PES(videoPID, 0xE0, startPTS+int64(i)*frameTicks, pic)...)
	}
	return ts
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "gen-fixtures: "+format+"\n", args...)
	os.Exit(1)
}
