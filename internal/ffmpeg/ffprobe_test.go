package ffmpeg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseResult(t *testing.T, raw string) *ProbeResult {
	t.Helper()
	var r ProbeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return &r
}

func TestProbeResultVideoFacts(t *testing.T) {
	r := parseResult(t, `{
		"format": {"duration": "7421.33", "size": "31000000000", "bit_rate": "33412000"},
		"streams": [
			{"codec_type": "video", "codec_name": "hevc", "width": 3840, "height": 2160,
			 "avg_frame_rate": "24000/1001", "color_transfer": "smpte2084", "color_primaries": "bt2020"},
			{"codec_type": "audio", "codec_name": "truehd", "channels": 8, "tags": {"language": "eng"}},
			{"codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "eng"}},
			{"codec_type": "subtitle", "codec_name": "subrip"}
		]
	}`)

	assert.Equal(t, 7421, r.GetDurationSeconds())
	assert.Equal(t, "hevc", r.GetVideoCodec())
	assert.Equal(t, 3840, r.GetWidth())
	assert.Equal(t, 2160, r.GetHeight())
	assert.InDelta(t, 23.976, r.GetFramerate(), 0.001)
	assert.Equal(t, int64(33412000), r.GetVideoBitrate())
	assert.Equal(t, "HDR10", r.GetHDRFormat())
	assert.Equal(t, "truehd", r.GetAudioCodec())
	assert.Equal(t, 8, r.GetAudioChannels())
	assert.Equal(t, []string{"eng"}, r.GetAudioLanguages())
	assert.Equal(t, []string{"eng", "und"}, r.GetSubtitleLanguages())
	assert.Equal(t, int64(31000000000), r.GetFileSize())
}

func TestGetHDRFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"dolby vision side data", `{"streams":[{"codec_type":"video","side_data_list":[{"side_data_type":"DOVI configuration record"}]}]}`, "Dolby Vision"},
		{"hdr10", `{"streams":[{"codec_type":"video","color_transfer":"smpte2084","color_primaries":"bt2020"}]}`, "HDR10"},
		{"pq without bt2020", `{"streams":[{"codec_type":"video","color_transfer":"smpte2084"}]}`, "PQ"},
		{"hlg", `{"streams":[{"codec_type":"video","color_transfer":"arib-std-b67"}]}`, "HLG"},
		{"sdr", `{"streams":[{"codec_type":"video","color_transfer":"bt709"}]}`, ""},
		{"no video stream", `{"streams":[{"codec_type":"audio"}]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseResult(t, tt.raw).GetHDRFormat())
		})
	}
}

func TestGetAudioFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"truehd atmos via side data", `{"streams":[{"codec_type":"audio","codec_name":"truehd","channels":8,"side_data_list":[{"side_data_type":"Dolby Atmos metadata"}]}]}`, "TrueHD Atmos"},
		{"truehd atmos via channels", `{"streams":[{"codec_type":"audio","codec_name":"truehd","channels":10}]}`, "TrueHD Atmos"},
		{"eac3 atmos profile", `{"streams":[{"codec_type":"audio","codec_name":"eac3","channels":6,"profile":"Dolby Digital Plus + Dolby Atmos"}]}`, "EAC3 Atmos"},
		{"dts-hd ma dtsx", `{"streams":[{"codec_type":"audio","codec_name":"dts","channels":8,"profile":"DTS-HD MA + DTS:X"}]}`, "DTS-HD MA DTS:X"},
		{"plain dts-hd ma", `{"streams":[{"codec_type":"audio","codec_name":"dts","channels":6,"profile":"DTS-HD MA"}]}`, "DTS-HD MA"},
		{"flac", `{"streams":[{"codec_type":"audio","codec_name":"flac","channels":2}]}`, "FLAC"},
		{"no audio", `{"streams":[{"codec_type":"video"}]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseResult(t, tt.raw).GetAudioFormat())
		})
	}
}

func TestGetFramerateFallbacks(t *testing.T) {
	assert.Equal(t, 25.0, parseResult(t, `{"streams":[{"codec_type":"video","avg_frame_rate":"25"}]}`).GetFramerate())
	assert.Equal(t, 0.0, parseResult(t, `{"streams":[{"codec_type":"video","avg_frame_rate":"0/0"}]}`).GetFramerate())
	assert.Equal(t, 0.0, parseResult(t, `{"streams":[{"codec_type":"video"}]}`).GetFramerate())
}

func TestGetVideoBitrateFallsBackToContainer(t *testing.T) {
	r := parseResult(t, `{"format":{"bit_rate":"9000000"},"streams":[{"codec_type":"video","codec_name":"h264"}]}`)
	assert.Equal(t, int64(9000000), r.GetVideoBitrate())
}

func TestNewFFprobeDefaults(t *testing.T) {
	f := NewFFprobe("", 0)
	assert.Equal(t, "ffprobe", f.Path)
	assert.Positive(t, f.Timeout)
}
