package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdCompress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{"ascii_text", []byte("The quick brown fox jumps over the lazy dog")},
		{"binary_data", []byte{0x00, 0xFF, 0x10, 0x20, 0x7F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := ZstdCompress(nil, tt.input)
			out, err := ZstdDecompress(nil, compressed)
			require.NoError(t, err)
			assert.Equal(t, tt.input, out)
		})
	}
}

func TestZstdDecompressError(t *testing.T) {
	t.Parallel()

	_, err := ZstdDecompress(nil, []byte{0x42, 0x43, 0x44})
	require.Error(t, err)
}

func TestReportBlob(t *testing.T) {
	t.Parallel()

	report := makeReport("bt", 3, 4, []FailedTest{makeTest("p", "C", "m", "stack\ntrace")}, nil)

	t.Run("round_trip", func(t *testing.T) {
		blob, err := encodeReportBlob(report)
		require.NoError(t, err)
		assert.Equal(t, reportBlobVersion, blob[0])

		decoded, err := decodeReportBlob(blob)
		require.NoError(t, err)
		assert.Equal(t, report.FailedTests, decoded.FailedTests)
		assert.Equal(t, report.BuildID, decoded.BuildID)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := decodeReportBlob(nil)
		require.Error(t, err)
	})

	t.Run("unknown_version", func(t *testing.T) {
		blob, err := encodeReportBlob(report)
		require.NoError(t, err)
		blob[0] = 99
		_, err = decodeReportBlob(blob)
		require.Error(t, err)
	})
}
