package parser

import (
	"fmt"

	"github.com/zsiec/bitlens/internal/demux"
	"github.com/zsiec/bitlens/internal/model"
)

// describeSEI adds one detail per sei_message of nal and the caption frames
// the messages complete. It returns the parse error, if any.
func describeSEI(nal []byte, headerLen int, captions *demux.CaptionDecoder, ts int64) ([]detail, string) {
	msgs, err := demux.ParseSEIMessages(nal, headerLen)
	var ds []detail
	hasCaptions := false
	for _, m := range msgs {
		ds = append(ds, detail{
			name: demux.SEIPayloadName(m.Type),
			size: int64(m.Size),
			fields: []model.Field{
				model.F("payload_type", m.Type),
				model.F("payload_size", m.Size),
			},
		})
		if m.Type == demux.SEIUserDataITUT {
			hasCaptions = true
		}
	}
	if hasCaptions {
		for _, f := range captions.Decode(nal, ts) {
			ds = append(ds, detail{
				name: "Caption",
				fields: []model.Field{
					model.F("channel", captionChannel(f.Channel)),
					model.F("text", f.Text),
					model.F("pts_ms", f.PTS),
				},
			})
		}
	}
	if err != nil {
		return ds, "SEI: " + err.Error()
	}
	return ds, ""
}

func captionChannel(ch int) string {
	if ch >= 7 {
		return fmt.Sprintf("DTVCC service %d", ch-6)
	}
	return fmt.Sprintf("CC%d", ch)
}
