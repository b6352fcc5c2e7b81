package audioconv

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes mono samples in [-1, 1] as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, x []float32, rate int) error {
	enc := wav.NewEncoder(w, rate, 16, 1, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, len(x)),
		SourceBitDepth: 16,
	}
	for i, v := range x {
		buf.Data[i] = int(clamp(float64(v), -1.0, 1.0) * 32767)
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
