package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/faiface/beep/flac"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// Each decoder returns mono samples at the stream's native rate.

// WAVE format tags
const (
	wavPCM        = 0x0001
	wavFloat      = 0x0003
	wavExtensible = 0xFFFE
)

type wavFormat struct {
	tag      uint16 // EXTENSIBLE is resolved to its subformat
	channels int
	rate     int
	bits     int
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	wf, err := readWAVFormat(r)
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	switch wf.tag {
	case wavPCM:
		return decodePCMWAV(r)
	case wavFloat:
		return decodeFloatWAV(r, wf)
	default:
		return nil, 0, fmt.Errorf("decode wav: unsupported encoding 0x%04x", wf.tag)
	}
}

// readWAVFormat reads the "fmt " chunk and rewinds r.
func readWAVFormat(r io.ReadSeeker) (wavFormat, error) {
	defer r.Seek(0, io.SeekStart)

	ch, err := findChunk(r, riff.FmtID)
	if err != nil {
		return wavFormat{}, err
	}
	if ch.Size < 16 {
		return wavFormat{}, errors.New("short fmt chunk")
	}
	hdr := make([]byte, min(ch.Size, 40))
	if _, err := io.ReadFull(ch, hdr); err != nil {
		return wavFormat{}, fmt.Errorf("read fmt chunk: %w", err)
	}

	wf := wavFormat{
		tag:      binary.LittleEndian.Uint16(hdr[0:]),
		channels: int(binary.LittleEndian.Uint16(hdr[2:])),
		rate:     int(binary.LittleEndian.Uint32(hdr[4:])),
		bits:     int(binary.LittleEndian.Uint16(hdr[14:])),
	}
	if wf.tag == wavExtensible {
		if len(hdr) < 26 {
			return wavFormat{}, errors.New("truncated WAVE_FORMAT_EXTENSIBLE header")
		}
		// the first two bytes of the subformat GUID carry the format tag
		wf.tag = binary.LittleEndian.Uint16(hdr[24:])
	}
	if wf.channels <= 0 || wf.rate <= 0 {
		return wavFormat{}, fmt.Errorf("invalid fmt chunk: %d channels at %d Hz", wf.channels, wf.rate)
	}
	return wf, nil
}

// findChunk walks the RIFF/WAVE chunks from the start of r up to id.
func findChunk(r io.ReadSeeker, id [4]byte) (*riff.Chunk, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	p := riff.New(r)
	if _, _, err := p.IDnSize(); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	var form [4]byte
	if _, err := io.ReadFull(r, form[:]); err != nil || form != riff.WavFormatID {
		return nil, errors.New("invalid or truncated RIFF/WAVE header")
	}

	for {
		ch, err := p.NextChunk()
		if err != nil {
			return nil, fmt.Errorf("no %q chunk", id[:])
		}
		if ch.ID == id {
			return ch, nil
		}
		ch.Drain()
	}
}

// decodeFloatWAV reads IEEE float samples, which go-audio would
// reinterpret as integers.
func decodeFloatWAV(r io.ReadSeeker, wf wavFormat) ([]float32, int, error) {
	if wf.bits != 32 && wf.bits != 64 {
		return nil, 0, fmt.Errorf("decode wav: unsupported float depth %d", wf.bits)
	}

	ch, err := findChunk(r, riff.DataFormatID)
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(ch, int64(ch.Size)))
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	width := wf.bits / 8
	x := make([]float32, len(raw)/width)
	for i := range x {
		b := raw[i*width:]
		var v float64
		if width == 4 {
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		} else {
			v = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		if math.IsNaN(v) {
			v = 0
		}
		x[i] = float32(clamp(v, -1.0, 1.0))
	}
	return downmixInterleaved(x, wf.channels), wf.rate, nil
}

func decodePCMWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("decode wav: invalid or truncated RIFF/WAVE header")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty data chunk")
		}
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return downmixInterleaved(x, ch), sr, nil
}

func decodeMP3(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always emits interleaved stereo
	x := downmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return x, sr, nil
}

func decodeOggVorbis(r io.Reader) ([]float32, int, error) {
	pcm, info, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if info == nil || info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, 0, errors.New("invalid ogg/vorbis stream")
	}
	return downmixInterleaved(pcm, info.Channels), info.SampleRate, nil
}

func decodeOggOpus(r io.Reader) ([]float32, int, error) {
	var rs io.ReadSeeker
	switch v := r.(type) {
	case *os.File:
		rs = v
	case io.ReadSeeker:
		rs = v
	default:
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, 0, err
		}
		rs = bytes.NewReader(b)
	}

	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, 0, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opusfile always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // n = samples per channel
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return downmixInterleaved(pcm48, ch), 48000, nil
}

func decodeFLAC(r io.Reader) ([]float32, int, error) {
	s, info, err := flac.Decode(r)
	if err != nil {
		return nil, 0, fmt.Errorf("decode flac: %w", err)
	}
	defer s.Close()

	x := drainMono(s)
	if err := s.Err(); err != nil {
		return nil, 0, fmt.Errorf("decode flac: %w", err)
	}
	return x, int(info.SampleRate), nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	if bitDepth == 8 {
		// 8-bit PCM is unsigned
		for i, v := range data {
			out[i] = float32(clamp(float64(v-128)/128.0, -1.0, 1.0))
		}
		return out
	}
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
