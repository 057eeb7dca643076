package mpegts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

const readBufferSize = 64 * 1024

// Demuxer reads MPEG-TS packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, section and PES payloads. Bytes that cannot be
// framed as packets are reported as corrupt regions and the demuxer
// resynchronizes on the next sync byte pair.
type Demuxer struct {
	ctx        context.Context
	reader     *bufio.Reader
	offset     int64
	pool       *packetPool
	programMap *programMap
	dataBuffer []*DemuxerData
	eof        bool
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	pm := newProgramMap()
	return &Demuxer{
		ctx:        ctx,
		reader:     bufio.NewReaderSize(r, readBufferSize),
		programMap: pm,
		pool:       newPacketPool(pm),
	}
}

// Offset returns the number of input bytes consumed so far.
func (d *Demuxer) Offset() int64 {
	return d.offset
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed. Malformed units are returned with Err
// set; only read failures and context cancellation end demuxing early.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		// Drain buffered results first.
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		if d.eof {
			return nil, io.EOF
		}

		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.step(); err != nil {
			return nil, err
		}
	}
}

// step consumes one packet, one corrupt region, or the end of input.
func (d *Demuxer) step() error {
	buf, err := d.reader.Peek(packetSize)
	if len(buf) < packetSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("mpegts: read at offset %d: %w", d.offset, err)
		}
		if len(buf) > 0 {
			start := d.offset
			d.discard(len(buf))
			d.dataBuffer = append(d.dataBuffer, corruptData(start, int64(len(buf)), "truncated packet"))
		}
		d.process(d.pool.dump(""))
		d.eof = true
		return nil
	}

	if buf[0] != syncByte {
		return d.resync()
	}

	pkt, err := ParsePacket(buf, d.offset)
	d.discard(packetSize)
	if err != nil {
		return err
	}
	if pkt.Header.PID == PIDNull {
		return nil
	}
	d.process(d.pool.add(pkt))
	return nil
}

// resync skips bytes until a sync byte that is followed by another one a
// packet later, or by the end of input. Units still being assembled are
// flushed as broken ahead of the corrupt region.
func (d *Demuxer) resync() error {
	start := d.offset
	from := 1
	for {
		if err := d.ctx.Err(); err != nil {
			return err
		}
		window, err := d.reader.Peek(readBufferSize)
		atEOF := errors.Is(err, io.EOF)
		if err != nil && !atEOF {
			return fmt.Errorf("mpegts: read at offset %d: %w", d.offset, err)
		}
		n, found := findSync(window, from, atEOF)
		d.discard(n)
		if found {
			break
		}
		from = 0
	}

	d.process(d.pool.dump("interrupted by sync loss"))
	d.dataBuffer = append(d.dataBuffer, corruptData(start, d.offset-start, "sync byte lost"))
	return nil
}

// findSync returns the index of the first plausible packet start at or after
// from. When found is false the caller must discard n bytes and look again
// with more data.
func findSync(b []byte, from int, atEOF bool) (n int, found bool) {
	for i := from; i < len(b); i++ {
		if b[i] != syncByte {
			continue
		}
		next := i + packetSize
		switch {
		case next < len(b):
			if b[next] == syncByte {
				return i, true
			}
		case atEOF:
			return i, true
		default:
			return i, false
		}
	}
	return len(b), atEOF
}

func (d *Demuxer) discard(n int) {
	discarded, _ := d.reader.Discard(n)
	d.offset += int64(discarded)
}

func corruptData(offset, size int64, reason string) *DemuxerData {
	return &DemuxerData{
		Offset:  offset,
		Corrupt: &CorruptRegion{Offset: offset, Size: size, Reason: reason},
	}
}

func (d *Demuxer) process(units []pendingUnit) {
	for _, u := range units {
		results := d.processPackets(u)
		for _, r := range results {
			d.updateProgramMap(r)
		}
		d.dataBuffer = append(d.dataBuffer, results...)
	}
}

// updateProgramMap learns PMT PIDs from the PAT and section-carrying
// elementary PIDs from each PMT.
func (d *Demuxer) updateProgramMap(r *DemuxerData) {
	if r.PAT != nil {
		for _, p := range r.PAT.Programs {
			d.programMap.addPMTPID(p.ProgramMapID)
		}
	}
	if r.PMT != nil {
		for _, es := range r.PMT.ElementaryStreams {
			if isSectionStreamType(es.StreamType) {
				d.programMap.addSectionPID(es.ElementaryPID)
			}
		}
	}
}

func (d *Demuxer) processPackets(u pendingUnit) []*DemuxerData {
	if len(u.packets) == 0 {
		return nil
	}

	firstPacket := u.packets[0]
	pid := firstPacket.Header.PID
	base := &DemuxerData{
		FirstPacket: firstPacket,
		Packets:     u.packets,
		PID:         pid,
		Offset:      firstPacket.Offset,
	}

	// Concatenate payloads.
	var payload []byte
	for _, p := range u.packets {
		payload = append(payload, p.Payload...)
	}

	var results []*DemuxerData
	switch {
	case len(payload) == 0:
		if u.broken == "" {
			return nil
		}
		results = []*DemuxerData{base}
	case isPSIPayload(pid, d.programMap):
		results = parsePSI(payload, base)
	case isPESPayload(payload):
		pes, err := parsePES(payload)
		r := *base
		r.PES = pes
		r.Err = err
		results = []*DemuxerData{&r}
	default:
		r := *base
		r.Err = fmt.Errorf("mpegts: PID 0x%04X: payload does not start a PES packet", pid)
		results = []*DemuxerData{&r}
	}

	if u.broken != "" {
		brokenErr := fmt.Errorf("mpegts: PID 0x%04X: %s", pid, u.broken)
		for _, r := range results {
			r.Err = errors.Join(brokenErr, r.Err)
		}
	}
	return results
}
