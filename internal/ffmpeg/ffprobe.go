// Package ffmpeg shells out to ffprobe to extract stream facts from media
// files. Probing is read-only; nothing here transcodes or rewrites media.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type FFprobe struct {
	Path    string
	Timeout time.Duration
}

type ProbeResult struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

type FormatInfo struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
	Bitrate  string `json:"bit_rate"`
}

type StreamInfo struct {
	CodecType      string            `json:"codec_type"`
	CodecName      string            `json:"codec_name"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	AvgFrameRate   string            `json:"avg_frame_rate"`
	BitRate        string            `json:"bit_rate"`
	Channels       int               `json:"channels"`
	ChannelLayout  string            `json:"channel_layout"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	PixFmt         string            `json:"pix_fmt"`
	Profile        string            `json:"profile"`
	SideDataList   []SideDataItem    `json:"side_data_list"`
	Tags           map[string]string `json:"tags"`
}

// SideDataItem represents a side_data entry from ffprobe (used for Dolby
// Vision RPU and Atmos detection).
type SideDataItem struct {
	SideDataType string `json:"side_data_type"`
}

func NewFFprobe(path string, timeout time.Duration) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFprobe{Path: path, Timeout: timeout}
}

// Probe runs ffprobe against one file. The command is bounded by the probe
// timeout on top of whatever deadline ctx already carries.
func (f *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.Path, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", filePath)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe timed out on %s: %w", filePath, ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe failed on %s: %w", filePath, err)
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &result, nil
}

func (r *ProbeResult) videoStream() *StreamInfo {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

func (r *ProbeResult) audioStream() *StreamInfo {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

func (r *ProbeResult) GetDurationSeconds() int {
	duration, _ := strconv.ParseFloat(r.Format.Duration, 64)
	return int(duration)
}

func (r *ProbeResult) GetVideoCodec() string {
	if s := r.videoStream(); s != nil {
		return s.CodecName
	}
	return ""
}

func (r *ProbeResult) GetAudioCodec() string {
	if s := r.audioStream(); s != nil {
		return s.CodecName
	}
	return ""
}

func (r *ProbeResult) GetWidth() int {
	if s := r.videoStream(); s != nil {
		return s.Width
	}
	return 0
}

func (r *ProbeResult) GetHeight() int {
	if s := r.videoStream(); s != nil {
		return s.Height
	}
	return 0
}

func (r *ProbeResult) GetAudioChannels() int {
	if s := r.audioStream(); s != nil {
		return s.Channels
	}
	return 0
}

// GetFramerate parses avg_frame_rate, which ffprobe reports as a fraction
// like "24000/1001".
func (r *ProbeResult) GetFramerate() float64 {
	s := r.videoStream()
	if s == nil || s.AvgFrameRate == "" {
		return 0
	}
	num, den, found := strings.Cut(s.AvgFrameRate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// GetVideoBitrate prefers the stream-level bitrate and falls back to the
// container total. Matroska files often omit per-stream rates.
func (r *ProbeResult) GetVideoBitrate() int64 {
	if s := r.videoStream(); s != nil && s.BitRate != "" {
		if br, err := strconv.ParseInt(s.BitRate, 10, 64); err == nil {
			return br
		}
	}
	br, _ := strconv.ParseInt(r.Format.Bitrate, 10, 64)
	return br
}

// GetAudioLanguages returns the language tag of every audio stream, in stream
// order, untagged streams as "und".
func (r *ProbeResult) GetAudioLanguages() []string {
	return r.streamLanguages("audio")
}

// GetSubtitleLanguages returns the language tag of every subtitle stream.
func (r *ProbeResult) GetSubtitleLanguages() []string {
	return r.streamLanguages("subtitle")
}

func (r *ProbeResult) streamLanguages(codecType string) []string {
	var langs []string
	for _, s := range r.Streams {
		if s.CodecType != codecType {
			continue
		}
		lang := s.Tags["language"]
		if lang == "" {
			lang = "und"
		}
		langs = append(langs, lang)
	}
	return langs
}

// GetAudioFormat returns an enhanced audio format string that detects spatial
// audio features like Dolby Atmos and DTS:X on top of the base codec.
// Possible return values include "TrueHD Atmos", "EAC3 Atmos",
// "DTS-HD MA DTS:X", "TrueHD", "DTS-HD MA", "FLAC", "AAC".
func (r *ProbeResult) GetAudioFormat() string {
	s := r.audioStream()
	if s == nil {
		return ""
	}
	codec := strings.ToUpper(s.CodecName)
	profile := strings.ToLower(s.Profile)

	displayCodec := s.CodecName
	switch codec {
	case "TRUEHD":
		displayCodec = "TrueHD"
	case "EAC3":
		displayCodec = "EAC3"
	case "AC3":
		displayCodec = "AC3"
	case "DTS":
		if strings.Contains(profile, "ma") {
			displayCodec = "DTS-HD MA"
		} else if strings.Contains(profile, "hra") {
			displayCodec = "DTS-HD HRA"
		} else {
			displayCodec = "DTS"
		}
	case "FLAC":
		displayCodec = "FLAC"
	case "AAC":
		displayCodec = "AAC"
	case "OPUS":
		displayCodec = "Opus"
	case "VORBIS":
		displayCodec = "Vorbis"
	case "PCM_S16LE", "PCM_S24LE", "PCM_S32LE":
		displayCodec = "PCM"
	}

	// Atmos shows up as JOC side data in TrueHD, or as profile in EAC3.
	isAtmos := false
	for _, sd := range s.SideDataList {
		sdType := strings.ToLower(sd.SideDataType)
		if strings.Contains(sdType, "atmos") || strings.Contains(sdType, "joint object coding") {
			isAtmos = true
			break
		}
	}
	if codec == "EAC3" && (strings.Contains(profile, "atmos") || s.Channels > 8) {
		isAtmos = true
	}
	if codec == "TRUEHD" && s.Channels > 8 {
		isAtmos = true
	}
	if isAtmos {
		return displayCodec + " Atmos"
	}

	if codec == "DTS" {
		if strings.Contains(profile, "dts:x") || strings.Contains(profile, "dtsx") {
			return displayCodec + " DTS:X"
		}
		for _, sd := range s.SideDataList {
			if strings.Contains(strings.ToLower(sd.SideDataType), "dts:x") {
				return displayCodec + " DTS:X"
			}
		}
	}

	return displayCodec
}

// GetHDRFormat returns a detailed HDR format string based on color transfer,
// primaries, and side data. Returns empty string for SDR content. Possible
// values: "Dolby Vision", "HDR10", "HLG", "PQ" (PQ transfer without BT.2020
// primaries).
func (r *ProbeResult) GetHDRFormat() string {
	s := r.videoStream()
	if s == nil {
		return ""
	}
	for _, sd := range s.SideDataList {
		if sd.SideDataType == "DOVI configuration record" || sd.SideDataType == "Dolby Vision RPU Data" {
			return "Dolby Vision"
		}
	}
	switch s.ColorTransfer {
	case "smpte2084":
		if s.ColorPrimaries == "bt2020" {
			return "HDR10"
		}
		return "PQ"
	case "arib-std-b67":
		return "HLG"
	}
	return ""
}

func (r *ProbeResult) GetFileSize() int64 {
	size, _ := strconv.ParseInt(r.Format.Size, 10, 64)
	return size
}
