// Package demux decodes the codec-level syntax of video and audio elementary
// streams: H.264 and H.265 NAL unit headers and parameter sets, MPEG-2 video
// headers, SEI messages (including CEA-608/708 captions and SMPTE 12M
// timecodes), and AAC ADTS frames.
//
// [Scanner] splits an Annex B byte stream into start-code delimited units
// that tile the input, which is what the packet analyzers build their
// entries from. [ParseAnnexB] and [ParseAnnexBHEVC] are convenience wrappers
// over a whole buffer.
package demux
