package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/tsgather/pkg/types"
)

// Codec encodes merged query results into compact cache payloads.
// Timestamps are delta-of-delta encoded and values XOR encoded before
// zstd compression; adjacent samples in a merged series are close in
// time and magnitude, so both transforms leave long runs of zeros.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec with the given compression level (1-4,
// fastest to best).
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// EncodeResult serializes a merged result into one compressed payload.
func (c *Codec) EncodeResult(res *types.GetResult) ([]byte, error) {
	buf := new(bytes.Buffer)

	var success uint8
	if res.AllSuccess {
		success = 1
	}
	if err := binary.Write(buf, binary.LittleEndian, success); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, res.MemoryEstimate); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(res.Results))); err != nil {
		return nil, err
	}

	for _, series := range res.Results {
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(series))); err != nil {
			return nil, err
		}
		if err := writeTimestamps(buf, series); err != nil {
			return nil, err
		}
		if err := writeValues(buf, series); err != nil {
			return nil, err
		}
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len()/2)), nil
}

// DecodeResult reverses EncodeResult.
func (c *Codec) DecodeResult(payload []byte) (*types.GetResult, error) {
	raw, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	buf := bytes.NewReader(raw)

	var success uint8
	if err := binary.Read(buf, binary.LittleEndian, &success); err != nil {
		return nil, err
	}
	res := &types.GetResult{AllSuccess: success == 1}
	if err := binary.Read(buf, binary.LittleEndian, &res.MemoryEstimate); err != nil {
		return nil, err
	}

	var keys uint32
	if err := binary.Read(buf, binary.LittleEndian, &keys); err != nil {
		return nil, err
	}
	res.Results = make([]types.Series, keys)

	for k := range res.Results {
		var count uint32
		if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		series := make(types.Series, count)
		if err := readTimestamps(buf, series); err != nil {
			return nil, err
		}
		if err := readValues(buf, series); err != nil {
			return nil, err
		}
		res.Results[k] = series
	}

	return res, nil
}

// writeTimestamps delta-of-delta encodes the series timestamps.
func writeTimestamps(buf *bytes.Buffer, series types.Series) error {
	if len(series) == 0 {
		return nil
	}
	if err := binary.Write(buf, binary.LittleEndian, series[0].Timestamp); err != nil {
		return err
	}
	var prevDelta int64
	for i := 1; i < len(series); i++ {
		delta := series[i].Timestamp - series[i-1].Timestamp
		if err := binary.Write(buf, binary.LittleEndian, delta-prevDelta); err != nil {
			return err
		}
		prevDelta = delta
	}
	return nil
}

func readTimestamps(buf *bytes.Reader, series types.Series) error {
	if len(series) == 0 {
		return nil
	}
	if err := binary.Read(buf, binary.LittleEndian, &series[0].Timestamp); err != nil {
		return err
	}
	var prevDelta int64
	for i := 1; i < len(series); i++ {
		var deltaOfDelta int64
		if err := binary.Read(buf, binary.LittleEndian, &deltaOfDelta); err != nil {
			return err
		}
		delta := deltaOfDelta + prevDelta
		series[i].Timestamp = series[i-1].Timestamp + delta
		prevDelta = delta
	}
	return nil
}

// writeValues XOR encodes the series values against their predecessor.
func writeValues(buf *bytes.Buffer, series types.Series) error {
	if len(series) == 0 {
		return nil
	}
	prevBits := math.Float64bits(series[0].Value)
	if err := binary.Write(buf, binary.LittleEndian, prevBits); err != nil {
		return err
	}
	for i := 1; i < len(series); i++ {
		bits := math.Float64bits(series[i].Value)
		if err := binary.Write(buf, binary.LittleEndian, bits^prevBits); err != nil {
			return err
		}
		prevBits = bits
	}
	return nil
}

func readValues(buf *bytes.Reader, series types.Series) error {
	if len(series) == 0 {
		return nil
	}
	var prevBits uint64
	if err := binary.Read(buf, binary.LittleEndian, &prevBits); err != nil {
		return err
	}
	series[0].Value = math.Float64frombits(prevBits)
	for i := 1; i < len(series); i++ {
		var xorBits uint64
		if err := binary.Read(buf, binary.LittleEndian, &xorBits); err != nil {
			return err
		}
		prevBits ^= xorBits
		series[i].Value = math.Float64frombits(prevBits)
	}
	return nil
}

// Close releases the codec's compressor resources.
func (c *Codec) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
