package lens

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const reportBlobVersion byte = 1

// Encoders and decoders are safe for concurrent EncodeAll and DecodeAll calls, so a single instance is shared.
var (
	blobEncoder = mustZstdEncoder()
	blobDecoder = mustZstdDecoder()
)

func mustZstdEncoder() *zstd.Encoder {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err) // theoretically not possible
	}
	return encoder
}

func mustZstdDecoder() *zstd.Decoder {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic(err) // theoretically not possible
	}
	return decoder
}

// ZstdCompress compresses data with zstd, appending the result to dst.
func ZstdCompress(dst, data []byte) []byte {
	return blobEncoder.EncodeAll(data, dst)
}

// ZstdDecompress decompresses zstd data, appending the result to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	return blobDecoder.DecodeAll(data, dst)
}

// encodeReportBlob produces the stored form of a report: a version byte followed by the zstd compressed msgpack.
func encodeReportBlob(report TestReport) ([]byte, error) {
	raw, err := MarshalReport(report)
	if err != nil {
		return nil, fmt.Errorf("encode report failed: %w", err)
	}
	return ZstdCompress([]byte{reportBlobVersion}, raw), nil
}

func decodeReportBlob(blob []byte) (TestReport, error) {
	if len(blob) == 0 {
		return TestReport{}, fmt.Errorf("empty report blob")
	} else if blob[0] != reportBlobVersion {
		return TestReport{}, fmt.Errorf("unsupported report blob version: %d", blob[0])
	}
	raw, err := ZstdDecompress(nil, blob[1:])
	if err != nil {
		return TestReport{}, fmt.Errorf("decompress report failed: %w", err)
	}
	return UnmarshalReport(raw)
}
