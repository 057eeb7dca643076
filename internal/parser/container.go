package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/demux"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/mpegts"
	"github.com/zsiec/bitlens/internal/scte35"
)

// containerParser demuxes an MPEG transport stream. Every PES packet, PSI
// section and corrupt byte range becomes a unit; elementary streams are
// numbered in the order PMTs announce them.
type containerParser struct {
	opts    Options
	streams atomic.Int32
	video   atomic.Int32
}

func newContainerParser(opts Options) Variant {
	p := &containerParser{opts: opts}
	p.video.Store(NoVideo)
	return p
}

func (p *containerParser) StreamCount() int { return int(p.streams.Load()) }

func (p *containerParser) VideoStreamIndex() int { return int(p.video.Load()) }

// tsStream is one elementary stream announced by a PMT.
type tsStream struct {
	index      int
	pid        uint16
	program    uint16
	streamType uint8
	codec      esCodec

	sampleRate int
	channels   int
	profile    string

	// Unit holding the start of the open picture, or -1.
	lastPicture       int
	lastPictureOffset int64
	pictureInPES      bool
}

func (s *tsStream) video() bool { return s.codec != nil }

// tsState is the per-parse bookkeeping of the container parser.
type tsState struct {
	p       *containerParser
	em      *emitter
	sink    Sink
	tsid    *uint16
	pmts    map[uint16]*mpegts.PMTData
	streams map[uint16]*tsStream
	order   []*tsStream
	clock   mpegts.Unwrapper
	lastMs  int64
}

func (p *containerParser) Parse(ctx context.Context, cur *cursor.Cursor, sink Sink) (Summary, error) {
	st := &tsState{
		p:       p,
		em:      newEmitter(sink, p.opts, "parser.ts"),
		sink:    sink,
		pmts:    make(map[uint16]*mpegts.PMTData),
		streams: make(map[uint16]*tsStream),
	}
	dmx := mpegts.NewDemuxer(ctx, cur)
	for {
		if err := st.em.checkpoint(ctx, dmx.Offset()); err != nil {
			return st.em.sum, err
		}
		d, err := dmx.NextData()
		switch {
		case errors.Is(err, io.EOF):
			st.closePictures()
			return st.em.finish()
		case ctx.Err() != nil:
			return st.em.sum, ErrCancelled
		case err != nil:
			return st.em.sum, &IOError{Op: "read", Path: cur.Name(), Err: err}
		}
		st.handle(d)
	}
}

func (st *tsState) handle(d *mpegts.DemuxerData) {
	switch {
	case d.Corrupt != nil:
		st.em.log.Warn("corrupt region", "offset", d.Corrupt.Offset, "size", d.Corrupt.Size, "reason", d.Corrupt.Reason)
		st.em.unit(model.Entry{
			Stream: model.NoStream,
			Offset: d.Corrupt.Offset,
			Size:   d.Corrupt.Size,
			Name:   "Corrupt data",
			Fields: []model.Field{model.F("size", d.Corrupt.Size)},
			Err:    d.Corrupt.Reason,
		}, 0)
		return
	case d.PAT != nil:
		st.handlePAT(d)
	case d.PMT != nil:
		st.handlePMT(d)
	case d.PES != nil:
		st.handlePES(d)
	case d.Section != nil:
		st.handleSection(d)
	default:
		st.em.unit(st.base(d, "Broken unit", st.streamIndex(d.PID)), st.lastMs)
	}
	if d.Err == nil {
		st.em.markValid()
	}
}

// base builds the unit entry shared by every kind of DemuxerData.
func (st *tsState) base(d *mpegts.DemuxerData, name string, stream int) model.Entry {
	e := model.Entry{
		Stream: stream,
		Offset: d.Offset,
		Size:   d.Size(),
		Name:   name,
		Fields: []model.Field{
			model.F("pid", fmt.Sprintf("0x%04X", d.PID)),
			model.F("ts_packets", len(d.Packets)),
		},
	}
	if d.Continued {
		// The packets were counted with the section before it.
		e.Size = 0
		e.Fields = append(e.Fields, model.F("continued", true))
	}
	if d.Err != nil {
		e.Err = errText(d.Err)
	}
	return e
}

func (st *tsState) streamIndex(pid uint16) int {
	if s, ok := st.streams[pid]; ok {
		return s.index
	}
	return model.NoStream
}

func (st *tsState) handlePAT(d *mpegts.DemuxerData) {
	pat := d.PAT
	e := st.base(d, "PAT", model.NoStream)
	e.Fields = append(e.Fields,
		model.F("transport_stream_id", pat.TransportStreamID),
		model.F("version_number", pat.Version),
		model.F("programs", len(pat.Programs)),
	)
	var ds []detail
	for _, prog := range pat.Programs {
		ds = append(ds, detail{
			name: fmt.Sprintf("Program %d", prog.ProgramNumber),
			fields: []model.Field{
				model.F("program_number", prog.ProgramNumber),
				model.F("program_map_PID", fmt.Sprintf("0x%04X", prog.ProgramMapID)),
			},
		})
	}
	id := st.em.unit(e, 0)
	st.em.details(id, model.NoStream, e.Offset, ds)

	if st.tsid == nil || *st.tsid != pat.TransportStreamID {
		tsid := pat.TransportStreamID
		st.tsid = &tsid
		st.publish()
	}
}

func (st *tsState) handlePMT(d *mpegts.DemuxerData) {
	pmt := d.PMT
	e := st.base(d, "PMT", model.NoStream)
	e.Fields = append(e.Fields,
		model.F("program_number", pmt.ProgramNumber),
		model.F("version_number", pmt.Version),
		model.F("PCR_PID", fmt.Sprintf("0x%04X", pmt.PCRPID)),
	)
	changed := false
	var ds []detail
	for _, es := range pmt.ElementaryStreams {
		s, ok := st.streams[es.ElementaryPID]
		if !ok || s.streamType != es.StreamType {
			s = st.addStream(es, pmt.ProgramNumber)
			changed = true
		}
		ds = append(ds, detail{
			name: fmt.Sprintf("Stream %d", s.index),
			fields: []model.Field{
				model.F("stream_type", fmt.Sprintf("0x%02X (%s)", es.StreamType, mpegts.StreamTypeName(es.StreamType))),
				model.F("elementary_PID", fmt.Sprintf("0x%04X", es.ElementaryPID)),
			},
		})
	}
	id := st.em.unit(e, 0)
	st.em.details(id, model.NoStream, e.Offset, ds)

	if prev, ok := st.pmts[pmt.ProgramNumber]; !ok || prev.Version != pmt.Version {
		changed = true
	}
	st.pmts[pmt.ProgramNumber] = pmt
	if changed {
		st.publish()
	}
}

func (st *tsState) addStream(es *mpegts.PMTElementaryStream, program uint16) *tsStream {
	s := &tsStream{
		pid:         es.ElementaryPID,
		program:     program,
		streamType:  es.StreamType,
		lastPicture: -1,
	}
	if prev, ok := st.streams[es.ElementaryPID]; ok {
		// A PMT update changed the stream type; keep the index.
		s.index = prev.index
		st.order[s.index] = s
	} else {
		s.index = len(st.order)
		st.order = append(st.order, s)
	}
	switch es.StreamType {
	case 0x1B:
		s.codec = newAVCCodec()
	case 0x24:
		s.codec = newHEVCCodec()
	case 0x01, 0x02:
		s.codec = newMPEG2Codec()
	}
	st.streams[es.ElementaryPID] = s
	st.p.streams.Store(int32(len(st.order)))
	if s.video() && st.p.video.Load() == NoVideo {
		st.p.video.Store(int32(s.index))
	}
	st.em.log.Info("stream discovered",
		"index", s.index,
		"pid", es.ElementaryPID,
		"type", mpegts.StreamTypeName(es.StreamType),
	)
	return s
}

// timestamp maps a PES packet's DTS, or its PTS, onto the shared timeline in
// milliseconds. Packets without either reuse the last value seen.
func (st *tsState) timestamp(pes *mpegts.PESData) (int64, bool) {
	oh := pes.Header.OptionalHeader
	if oh == nil {
		return st.lastMs, false
	}
	ref := oh.DTS
	if ref == nil {
		ref = oh.PTS
	}
	if ref == nil {
		return st.lastMs, false
	}
	st.lastMs = mpegts.TicksToMillis(st.clock.Unwrap(ref.Base))
	return st.lastMs, true
}

func (st *tsState) handlePES(d *mpegts.DemuxerData) {
	pes := d.PES
	s := st.streams[d.PID]
	name := "PES"
	stream := model.NoStream
	if s != nil {
		name = "PES " + mpegts.StreamTypeName(s.streamType)
		stream = s.index
	}
	e := st.base(d, name, stream)
	ts, timed := st.timestamp(pes)

	e.Fields = append(e.Fields,
		model.F("stream_id", fmt.Sprintf("0x%02X", pes.Header.StreamID)),
		model.F("PES_packet_length", pes.Header.PacketLength),
		model.F("payload_size", len(pes.Data)),
	)
	if oh := pes.Header.OptionalHeader; oh != nil {
		if oh.PTS != nil {
			e.Fields = append(e.Fields, model.F("PTS", oh.PTS.Base))
		}
		if oh.DTS != nil {
			e.Fields = append(e.Fields, model.F("DTS", oh.DTS.Base))
		}
		e.Fields = append(e.Fields, model.F("data_alignment_indicator", oh.DataAlignment))
	}
	if timed {
		e.Fields = append(e.Fields, model.F("time_ms", ts))
	}
	if fp := d.FirstPacket; fp != nil {
		if fp.Header.RandomAccessIndicator {
			e.Fields = append(e.Fields, model.F("random_access_indicator", true))
		}
		if fp.PCR != nil {
			e.Fields = append(e.Fields, model.F("PCR", fp.PCR.Base))
		}
	}

	var ds []detail
	changed := false
	if s != nil {
		var childErr string
		switch {
		case s.video():
			ds, childErr, changed = st.videoDetails(d, s, ts)
		case s.streamType == 0x0F:
			ds, childErr, changed = st.audioDetails(d, s)
		}
		if childErr != "" && e.Err == "" {
			e.Err = childErr
		}
	}

	id := st.em.unit(e, ts)
	st.em.details(id, stream, e.Offset, ds)
	if s != nil && s.pictureInPES {
		s.lastPicture, s.lastPictureOffset = id, e.Offset
	}
	if changed {
		st.publish()
	}
}

// videoDetails describes the NAL units or MPEG-2 start-code units of a
// video PES payload.
func (st *tsState) videoDetails(d *mpegts.DemuxerData, s *tsStream, ts int64) ([]detail, string, bool) {
	pes := d.PES
	sc := demux.NewScanner(bytes.NewReader(pes.Data))
	var ds []detail
	var firstErr string
	changed := false
	picture := -1
	for sc.Scan() {
		u := sc.Unit()
		var eu esUnit
		if u.Leading {
			eu = esUnit{name: "Leading data", err: "no start code"}
		} else {
			eu = s.codec.describe(u, ts)
		}
		changed = changed || eu.changed
		if eu.pictureErr != "" {
			if picture >= 0 {
				ds[picture].err = joinReason(ds[picture].err, eu.pictureErr)
				if firstErr == "" {
					firstErr = ds[picture].name + ": " + eu.pictureErr
				}
			} else {
				// The picture started in an earlier PES packet.
				st.em.markError(s.lastPicture, s.lastPictureOffset, eu.pictureErr)
			}
		}
		if eu.err != "" && firstErr == "" {
			firstErr = eu.name + ": " + eu.err
		}
		if eu.picture {
			picture = len(ds)
		}
		ds = append(ds, detail{
			name:     eu.name,
			fields:   eu.fields,
			size:     u.Size(),
			err:      eu.err,
			offset:   d.FileOffset(pes.DataOffset + int(u.Offset)),
			located:  true,
			children: eu.details,
		})
	}
	s.pictureInPES = picture >= 0
	return ds, firstErr, changed
}

// closePictures flags pictures still open at the end of the input that
// ended without slice data.
func (st *tsState) closePictures() {
	for _, s := range st.order {
		if !s.video() {
			continue
		}
		if reason := closePicture(s.codec); reason != "" {
			st.em.markError(s.lastPicture, s.lastPictureOffset, reason)
		}
	}
}

func (st *tsState) audioDetails(d *mpegts.DemuxerData, s *tsStream) ([]detail, string, bool) {
	pes := d.PES
	frames, skipped, err := demux.ParseADTS(pes.Data)
	var ds []detail
	changed := false
	for _, f := range frames {
		ds = append(ds, detail{
			name: "ADTS frame",
			size: int64(len(f.Data)),
			fields: []model.Field{
				model.F("profile", f.Profile),
				model.F("sample_rate", f.SampleRate),
				model.F("channels", f.Channels),
				model.F("protection_absent", !f.CRC),
			},
			offset:  d.FileOffset(pes.DataOffset + f.Offset),
			located: true,
		})
		if f.SampleRate != s.sampleRate || f.Channels != s.channels || f.Profile != s.profile {
			s.sampleRate, s.channels, s.profile = f.SampleRate, f.Channels, f.Profile
			changed = true
		}
	}
	var reason string
	switch {
	case err != nil:
		reason = "ADTS: " + err.Error()
	case skipped > 0:
		reason = fmt.Sprintf("ADTS: %d bytes outside frames", skipped)
	}
	return ds, reason, changed
}

func (st *tsState) handleSection(d *mpegts.DemuxerData) {
	sec := d.Section
	stream := st.streamIndex(d.PID)
	if sec.TableID == scte35.TableID {
		st.handleSplice(d, stream)
		return
	}
	e := st.base(d, mpegts.TableName(sec.TableID), stream)
	e.Fields = append(e.Fields,
		model.F("table_id", fmt.Sprintf("0x%02X", sec.TableID)),
		model.F("section_length", len(sec.Data)),
	)
	st.em.unit(e, st.lastMs)
}

func (st *tsState) handleSplice(d *mpegts.DemuxerData, stream int) {
	e := st.base(d, "splice_info_section", stream)
	sis, err := scte35.DecodeBytes(d.Section.Data)
	if err != nil && e.Err == "" {
		e.Err = err.Error()
	}
	var ds []detail
	if sis != nil {
		e.Fields = append(e.Fields,
			model.F("splice_command_type", scte35.CommandName(sis.CommandType)),
			model.F("pts_adjustment", sis.PTSAdjustment),
			model.F("tier", fmt.Sprintf("0x%03X", sis.Tier)),
		)
		if sis.Encrypted {
			e.Fields = append(e.Fields, model.F("encrypted_packet", true))
		}
		if dur, ok := sis.Duration(); ok {
			e.Fields = append(e.Fields, model.F("duration_ms", mpegts.TicksToMillis(int64(dur))))
		}
		ds = spliceDetails(sis)
	}
	id := st.em.unit(e, st.lastMs)
	st.em.details(id, stream, e.Offset, ds)
}

func spliceDetails(sis *scte35.SpliceInfoSection) []detail {
	var ds []detail
	switch cmd := sis.SpliceCommand.(type) {
	case *scte35.SpliceInsert:
		fields := []model.Field{
			model.F("splice_event_id", cmd.SpliceEventID),
			model.F("splice_event_cancel_indicator", cmd.SpliceEventCancelIndicator),
		}
		if !cmd.SpliceEventCancelIndicator {
			fields = append(fields,
				model.F("out_of_network_indicator", cmd.OutOfNetworkIndicator),
				model.F("program_splice_flag", cmd.ProgramSpliceFlag),
				model.F("splice_immediate_flag", cmd.SpliceImmediateFlag),
			)
			if pts := cmd.SpliceTime.PTSTime; pts != nil {
				fields = append(fields, model.F("pts_time", *pts))
			}
			if bd := cmd.BreakDuration; bd != nil {
				fields = append(fields,
					model.F("auto_return", bd.AutoReturn),
					model.F("break_duration", bd.Duration),
				)
			}
			fields = append(fields,
				model.F("unique_program_id", cmd.UniqueProgramID),
				model.F("avail_num", cmd.AvailNum),
				model.F("avails_expected", cmd.AvailsExpected),
			)
		}
		ds = append(ds, detail{name: "splice_insert", fields: fields})
	case *scte35.TimeSignal:
		var fields []model.Field
		if pts := cmd.SpliceTime.PTSTime; pts != nil {
			fields = append(fields, model.F("pts_time", *pts))
		}
		ds = append(ds, detail{name: "time_signal", fields: fields})
	case *scte35.RawCommand:
		ds = append(ds, detail{
			name:   scte35.CommandName(cmd.CommandType),
			size:   int64(len(cmd.Data)),
			fields: []model.Field{model.F("command_length", len(cmd.Data))},
		})
	case nil:
	default:
		ds = append(ds, detail{name: scte35.CommandName(cmd.Type())})
	}

	for _, desc := range sis.SpliceDescriptors {
		switch sd := desc.(type) {
		case *scte35.SegmentationDescriptor:
			fields := []model.Field{
				model.F("segmentation_event_id", sd.SegmentationEventID),
				model.F("segmentation_event_cancel_indicator", sd.CancelIndicator),
			}
			if !sd.CancelIndicator {
				fields = append(fields,
					model.F("segmentation_type_id", fmt.Sprintf("0x%02X (%s)", sd.SegmentationTypeID, sd.Name())),
					model.F("segment_num", sd.SegmentNum),
					model.F("segments_expected", sd.SegmentsExpected),
					model.F("segmentation_upid_type", sd.UPIDType),
				)
				if sd.SegmentationDuration != nil {
					fields = append(fields, model.F("segmentation_duration", *sd.SegmentationDuration))
				}
			}
			ds = append(ds, detail{name: "segmentation_descriptor", fields: fields})
		case *scte35.RawDescriptor:
			ds = append(ds, detail{
				name: fmt.Sprintf("splice_descriptor (tag 0x%02X)", sd.DescriptorTag),
				size: int64(len(sd.Data)),
				fields: []model.Field{
					model.F("identifier", fmt.Sprintf("0x%08X", sd.Identifier)),
				},
			})
		}
	}
	return ds
}

// publish sends a stream info snapshot built from the current tables.
func (st *tsState) publish() {
	var info Info
	if st.tsid != nil {
		info = append(info, Group("Transport stream", "",
			KV("transport_stream_id", *st.tsid),
			KV("programs", len(st.pmts)),
			KV("streams", len(st.order)),
		))
	}
	for _, s := range st.order {
		children := []Item{
			KV("pid", fmt.Sprintf("0x%04X", s.pid)),
			KV("stream_type", fmt.Sprintf("0x%02X", s.streamType)),
			KV("program", s.program),
		}
		switch {
		case s.video():
			children = append(children, s.codec.info()...)
		case s.sampleRate > 0:
			children = append(children,
				KV("codec", "AAC "+s.profile),
				KV("sample_rate", s.sampleRate),
				KV("channels", s.channels),
			)
		}
		info = append(info, Group(fmt.Sprintf("Stream %d", s.index), mpegts.StreamTypeName(s.streamType), children...))
	}
	st.sink.StreamInfo(info)
}

// errText flattens a possibly joined error onto one line.
func errText(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
