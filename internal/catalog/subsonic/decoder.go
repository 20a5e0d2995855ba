package subsonic

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// decoder turns a compressed audio stream into signed 16-bit little-endian
// interleaved PCM.
type decoder interface {
	// Decode wraps r; the returned reader yields raw PCM.
	Decode(r io.Reader) (io.Reader, error)
	SampleRate() int
	Channels() int
}

// newDecoder picks a decoder for the server-reported format.
func newDecoder(format string) (decoder, error) {
	switch strings.ToLower(format) {
	case "mp3":
		return &mp3Decoder{}, nil
	case "ogg", "oga", "vorbis":
		return &oggDecoder{}, nil
	case "flac":
		return &flacDecoder{}, nil
	case "wav", "wave":
		return &wavDecoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", format)
	}
}

// formatFromContentType maps an HTTP content type to a decoder format name.
func formatFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "mpeg"):
		return "mp3"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	case strings.Contains(ct, "flac"):
		return "flac"
	case strings.Contains(ct, "wav"):
		return "wav"
	default:
		return ""
	}
}

// mp3Decoder wraps go-mp3, which always outputs 16-bit stereo.
type mp3Decoder struct {
	sampleRate int
}

func (d *mp3Decoder) Decode(r io.Reader) (io.Reader, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("creating mp3 decoder: %w", err)
	}
	d.sampleRate = dec.SampleRate()
	return dec, nil
}

func (d *mp3Decoder) SampleRate() int { return d.sampleRate }
func (d *mp3Decoder) Channels() int   { return 2 }

// oggDecoder wraps oggvorbis and converts its float samples to int16.
type oggDecoder struct {
	sampleRate int
	channels   int
}

func (d *oggDecoder) Decode(r io.Reader) (io.Reader, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating vorbis decoder: %w", err)
	}
	d.sampleRate = int(dec.SampleRate())
	d.channels = dec.Channels()
	return &oggReader{reader: dec}, nil
}

func (d *oggDecoder) SampleRate() int { return d.sampleRate }
func (d *oggDecoder) Channels() int   { return d.channels }

type oggReader struct {
	reader *oggvorbis.Reader
}

func (o *oggReader) Read(p []byte) (int, error) {
	samples := make([]float32, len(p)/2)
	read, err := o.reader.Read(samples)
	n := 0
	for i := 0; i < read; i++ {
		v := samples[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(p[n:], uint16(int16(v*32767)))
		n += 2
	}
	if err != nil && read > 0 && err == io.EOF {
		// Deliver the tail first; EOF comes on the next call.
		return n, nil
	}
	return n, err
}

// flacDecoder wraps mewkiz/flac, interleaving subframe samples.
type flacDecoder struct {
	sampleRate int
	channels   int
}

func (d *flacDecoder) Decode(r io.Reader) (io.Reader, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("creating flac decoder: %w", err)
	}
	d.sampleRate = int(stream.Info.SampleRate)
	d.channels = int(stream.Info.NChannels)
	shift := 0
	if bps := int(stream.Info.BitsPerSample); bps > 16 {
		shift = bps - 16
	}
	return &flacReader{stream: stream, shift: shift}, nil
}

func (d *flacDecoder) SampleRate() int { return d.sampleRate }
func (d *flacDecoder) Channels() int   { return d.channels }

type flacReader struct {
	stream *flac.Stream
	shift  int // scale >16-bit sources down to 16 bits
	rest   []byte
}

func (f *flacReader) Read(p []byte) (int, error) {
	if len(f.rest) == 0 {
		frame, err := f.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		nch := len(frame.Subframes)
		ns := len(frame.Subframes[0].Samples)
		f.rest = make([]byte, 0, ns*nch*2)
		var scratch [2]byte
		for i := 0; i < ns; i++ {
			for ch := 0; ch < nch; ch++ {
				s := frame.Subframes[ch].Samples[i] >> uint(f.shift)
				binary.LittleEndian.PutUint16(scratch[:], uint16(int16(s)))
				f.rest = append(f.rest, scratch[0], scratch[1])
			}
		}
	}
	n := copy(p, f.rest)
	f.rest = f.rest[n:]
	return n, nil
}

// wavDecoder parses the RIFF header and hands the data chunk through.
type wavDecoder struct {
	sampleRate int
	channels   int
}

func (d *wavDecoder) Decode(r io.Reader) (io.Reader, error) {
	var header struct {
		RIFF          [4]byte
		FileSize      uint32
		WAVE          [4]byte
		FmtChunk      [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("reading wav header: %w", err)
	}
	if string(header.RIFF[:]) != "RIFF" || string(header.WAVE[:]) != "WAVE" {
		return nil, fmt.Errorf("not a wav stream")
	}
	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported wav sample size: %d", header.BitsPerSample)
	}
	if header.FmtSize > 16 {
		if _, err := io.CopyN(io.Discard, r, int64(header.FmtSize-16)); err != nil {
			return nil, fmt.Errorf("skipping format extension: %w", err)
		}
	}

	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		if string(chunk.ID[:]) == "data" {
			d.sampleRate = int(header.SampleRate)
			d.channels = int(header.Channels)
			return io.LimitReader(r, int64(chunk.Size)), nil
		}
		if _, err := io.CopyN(io.Discard, r, int64(chunk.Size)); err != nil {
			return nil, fmt.Errorf("skipping chunk: %w", err)
		}
	}
}

func (d *wavDecoder) SampleRate() int { return d.sampleRate }
func (d *wavDecoder) Channels() int   { return d.channels }
