package preserve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{name: "bounded range", header: "bytes=0-499", size: 1000, wantStart: 0, wantEnd: 499},
		{name: "interior range", header: "bytes=500-999", size: 1000, wantStart: 500, wantEnd: 999},
		{name: "open ended", header: "bytes=500-", size: 1000, wantStart: 500, wantEnd: 999},
		{name: "suffix length", header: "bytes=-300", size: 1000, wantStart: 700, wantEnd: 999},
		{name: "suffix longer than object", header: "bytes=-5000", size: 1000, wantStart: 0, wantEnd: 999},
		{name: "end clamped to size", header: "bytes=990-2000", size: 1000, wantStart: 990, wantEnd: 999},
		{name: "single byte", header: "bytes=0-0", size: 10, wantStart: 0, wantEnd: 0},
		{name: "start past end of object", header: "bytes=1000-1001", size: 1000, wantErr: true},
		{name: "inverted range", header: "bytes=9-2", size: 1000, wantErr: true},
		{name: "missing unit", header: "0-499", size: 1000, wantErr: true},
		{name: "wrong unit", header: "lines=0-499", size: 1000, wantErr: true},
		{name: "multi range unsupported", header: "bytes=0-5,10-15", size: 1000, wantErr: true},
		{name: "garbage", header: "bytes=abc-def", size: 1000, wantErr: true},
		{name: "empty spec", header: "bytes=-", size: 1000, wantErr: true},
		{name: "suffix against empty object", header: "bytes=-5", size: 0, wantErr: true},
		{name: "bounded range against empty object", header: "bytes=0-0", size: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := parseByteRange(tt.header, tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, rng.Start)
			assert.Equal(t, tt.wantEnd, rng.End)
		})
	}
}

func TestByteRangeContentRange(t *testing.T) {
	rng := byteRange{Start: 200, End: 499}
	assert.Equal(t, int64(300), rng.Length())
	assert.Equal(t, "bytes 200-499/1000", rng.ContentRange(1000))
}
