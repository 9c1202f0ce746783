package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCmd(t *testing.T) {
	assert.Equal(t, []byte{'D', 'S', lineFeed}, EncodeCmd(CmdDataAcquisitionStart))
}

func TestEncodeCmdParam(t *testing.T) {
	arg, err := EncodeASCIIInt(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{'M', 'S', '0', '5', lineFeed}, EncodeCmdParam(CmdMotorSpeedAdjust, arg))
}

func TestASCIIIntRoundTrip(t *testing.T) {
	for n := 0; n <= 99; n++ {
		enc, err := EncodeASCIIInt(n)
		require.NoError(t, err)
		dec, err := DecodeASCIIInt(enc)
		require.NoError(t, err)
		assert.Equal(t, n, dec)
	}
}

func TestEncodeASCIIIntOutOfRange(t *testing.T) {
	_, err := EncodeASCIIInt(-1)
	assert.Error(t, err)
	_, err = EncodeASCIIInt(100)
	assert.Error(t, err)
}

func TestDecodeASCIIIntRejectsNonDigits(t *testing.T) {
	_, err := DecodeASCIIInt([2]byte{'a', '0'})
	assert.Error(t, err)
}

func TestDecodeResponseHeaderSuccess(t *testing.T) {
	buf := []byte{'D', 'S', '0', '0', 0x50, lineFeed}
	h, err := DecodeResponseHeader(CmdDataAcquisitionStart, buf)
	require.NoError(t, err)
	assert.Equal(t, byte('0'), h.StatusByte1)
	assert.Equal(t, byte('0'), h.StatusByte2)
}

func TestDecodeResponseHeaderRejectsBadChecksum(t *testing.T) {
	buf := []byte{'D', 'S', '0', '0', 0x51, lineFeed}
	_, err := DecodeResponseHeader(CmdDataAcquisitionStart, buf)
	assert.Error(t, err)
}

func TestDecodeResponseHeaderRejectsCommandMismatch(t *testing.T) {
	buf := []byte{'D', 'X', '0', '0', 0x50, lineFeed}
	_, err := DecodeResponseHeader(CmdDataAcquisitionStart, buf)
	assert.Error(t, err)
}

func TestDecodeResponseHeaderRejectsMissingTerminator(t *testing.T) {
	buf := []byte{'D', 'S', '0', '0', 0x50, 0x00}
	_, err := DecodeResponseHeader(CmdDataAcquisitionStart, buf)
	assert.Error(t, err)
}

func TestDecodeResponseHeaderRejectsWrongLength(t *testing.T) {
	_, err := DecodeResponseHeader(CmdDataAcquisitionStart, []byte{'D', 'S'})
	assert.Error(t, err)
}

func TestDecodeResponseParamSuccess(t *testing.T) {
	buf := []byte{'M', 'S', '0', '5', lineFeed, '0', '0', 0x50, lineFeed}
	p, err := DecodeResponseParam(CmdMotorSpeedAdjust, buf)
	require.NoError(t, err)
	assert.Equal(t, [2]byte{'0', '5'}, [2]byte{p.ArgByte1, p.ArgByte2})
	assert.Equal(t, byte('0'), p.StatusByte1)
}

func TestDecodeResponseParamRejectsBadChecksum(t *testing.T) {
	buf := []byte{'M', 'S', '0', '5', lineFeed, '0', '0', 0x00, lineFeed}
	_, err := DecodeResponseParam(CmdMotorSpeedAdjust, buf)
	assert.Error(t, err)
}

func TestDecodeResponseSampleSuccess(t *testing.T) {
	// sync bit set, raw angle 0x0EE2 -> 238125 millideg, distance 150cm, signal 50.
	buf := []byte{0x01, 0xE2, 0x0E, 150, 0x00, 50, 0xBA}
	s, err := DecodeResponseSample(buf)
	require.NoError(t, err)
	assert.True(t, s.IsSync())
	assert.False(t, s.HasError())
	assert.Equal(t, int32(238125), AngleMillideg(s.Angle))
	assert.Equal(t, uint16(150), s.Distance)
}

func TestDecodeResponseSampleRejectsBadChecksum(t *testing.T) {
	buf := []byte{0x01, 0xE2, 0x0E, 150, 0x00, 50, 0x00}
	_, err := DecodeResponseSample(buf)
	assert.Error(t, err)
}

func TestDecodeResponseSampleErrorBits(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	s, err := DecodeResponseSample(buf)
	require.NoError(t, err)
	assert.True(t, s.HasError())
	assert.False(t, s.IsSync())
}

func TestDecodeResponseSampleSyncAndError(t *testing.T) {
	buf := []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03}
	s, err := DecodeResponseSample(buf)
	require.NoError(t, err)
	assert.True(t, s.HasError())
	assert.True(t, s.IsSync())
}

func TestDecodeResponseInfoMotorReady(t *testing.T) {
	buf := []byte{'M', 'Z', '0', '0', lineFeed}
	r, err := DecodeResponseInfoMotorReady(CmdMotorReady, buf)
	require.NoError(t, err)
	assert.True(t, r.IsReady())

	buf = []byte{'M', 'Z', '0', '1', lineFeed}
	r, err = DecodeResponseInfoMotorReady(CmdMotorReady, buf)
	require.NoError(t, err)
	assert.False(t, r.IsReady())
}

func TestAngleMillidegWholeAndFraction(t *testing.T) {
	cases := []struct {
		raw  uint16
		want int32
	}{
		{0x0000, 0},
		{0x0010, 1000}, // 1 degree, no fraction
		{0x0008, 500},  // 0.5 degree
		{0x0EE2, 238125}, // 238 + 2/16 degrees
		{0x05A0, 90000},  // 90 degrees exactly
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AngleMillideg(c.raw), "raw=0x%04X", c.raw)
	}
}

func TestAngleMillidegWrapsZero(t *testing.T) {
	// raw = 360 << 4 = 0x1680 decodes to exactly 360000 millideg, which must
	// normalize to 0 rather than leak the out-of-range sentinel to callers.
	assert.Equal(t, int32(0), AngleMillideg(0x1680))
}
