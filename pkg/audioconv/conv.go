package audioconv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const DefaultSampleRate = 16000

var (
	ErrUnsupported = errors.New("unsupported audio format")
	ErrNoSamples   = errors.New("no audio samples decoded")
)

type Options struct {
	SampleRate int    // <=0 => DefaultSampleRate
	MaxSamples int    // 0 = no limit
	FFmpegPath string // empty disables the ffmpeg fallback
}

func (o Options) rate() int {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return o.SampleRate
}

type format string

const (
	formatUnknown format = ""
	formatWAV     format = "wav"
	formatMP3     format = "mp3"
	formatOgg     format = "ogg"
	formatFLAC    format = "flac"
)

var extFormats = map[string]format{
	".wav":  formatWAV,
	".wave": formatWAV,
	".mp3":  formatMP3,
	".ogg":  formatOgg,
	".oga":  formatOgg,
	".opus": formatOgg,
	".flac": formatFLAC,
}

// Formats lists the container formats ConvertFile can read with opt.
func Formats(opt Options) []string {
	out := []string{"wav", "mp3", "flac", "ogg", "opus"}
	if opt.FFmpegPath != "" {
		out = append(out, "m4a", "webm", "aac")
	}
	return out
}

// ConvertFile decodes the file at path into mono float32 samples at opt.SampleRate.
// Samples are not normalized; see PeakNormalize.
func ConvertFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	kind := sniff(f)
	if kind == formatUnknown {
		kind = extFormats[ext]
	}

	var (
		x    []float32
		rate int
	)
	switch kind {
	case formatWAV:
		x, rate, err = decodeWAV(f)
	case formatMP3:
		x, rate, err = decodeMP3(f)
	case formatFLAC:
		x, rate, err = decodeFLAC(f)
	case formatOgg:
		x, rate, err = decodeOggVorbis(f)
		if err != nil {
			if _, e2 := f.Seek(0, io.SeekStart); e2 != nil {
				return nil, fmt.Errorf("rewind ogg: %w", e2)
			}
			var e3 error
			if x, rate, e3 = decodeOggOpus(f); e3 != nil {
				return nil, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus (%v)", err, e3)
			}
			err = nil
		}
	default:
		if opt.FFmpegPath == "" {
			if ext == "" {
				ext = "unknown"
			}
			return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupported, ext, strings.Join(Formats(opt), ", "))
		}
		rate = opt.rate()
		x, err = decodeFFmpeg(ctx, opt.FFmpegPath, path, rate)
	}
	if err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, ErrNoSamples
	}

	x = Resample(x, rate, opt.rate())
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

// sniff inspects magic bytes and rewinds f.
func sniff(f io.ReadSeeker) format {
	defer f.Seek(0, io.SeekStart)

	magic, _ := bufio.NewReader(f).Peek(4)
	if len(magic) < 4 {
		return formatUnknown
	}
	switch {
	case string(magic) == "RIFF":
		return formatWAV
	case string(magic) == "OggS":
		return formatOgg
	case string(magic) == "fLaC":
		return formatFLAC
	case string(magic[:3]) == "ID3":
		return formatMP3
	case magic[0] == 0xFF && magic[1]&0xE0 == 0xE0:
		return formatMP3
	}
	return formatUnknown
}
