package wav

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/mdobak/go-xerrors"
)

// Metadata is the part of ffprobe's report the CLI cares about.
type Metadata struct {
	Duration   float64 // seconds, 0 for live streams
	SampleRate int     // of the first audio stream
	Channels   int
	Codec      string
	Format     string
	Title      string
	Artist     string
	Tags       map[string]string
}

// GetMetadata runs ffprobe on input and parses its JSON report.
func GetMetadata(ctx context.Context, input string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, xerrors.New("ffprobe "+input, err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) (*Metadata, error) {
	md := &Metadata{Tags: map[string]string{}}

	if _, _, _, err := jsonparser.Get(data, "format"); err != nil {
		return nil, xerrors.New("ffprobe output", err)
	}

	md.Format, _ = jsonparser.GetString(data, "format", "format_name")
	if d, err := jsonparser.GetString(data, "format", "duration"); err == nil {
		md.Duration, _ = strconv.ParseFloat(d, 64)
	}

	_ = jsonparser.ObjectEach(data, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
		if typ == jsonparser.String {
			md.Tags[string(key)] = string(value)
		}
		return nil
	}, "format", "tags")
	md.Title = firstTag(md.Tags, "title", "TITLE", "icy-name")
	md.Artist = firstTag(md.Tags, "artist", "ARTIST", "album_artist")

	found := false
	_, _ = jsonparser.ArrayEach(data, func(stream []byte, _ jsonparser.ValueType, _ int, _ error) {
		if found {
			return
		}
		if kind, _ := jsonparser.GetString(stream, "codec_type"); kind != "audio" {
			return
		}
		found = true
		md.Codec, _ = jsonparser.GetString(stream, "codec_name")
		if ch, err := jsonparser.GetInt(stream, "channels"); err == nil {
			md.Channels = int(ch)
		}
		if sr, err := jsonparser.GetString(stream, "sample_rate"); err == nil {
			md.SampleRate, _ = strconv.Atoi(sr)
		}
	}, "streams")

	if !found {
		return nil, xerrors.New("ffprobe output: no audio stream")
	}
	return md, nil
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}
