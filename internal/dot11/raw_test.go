package dot11

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotDefinition_Format0RoundTrip(t *testing.T) {
	word, err := EncodeSlotDefinition(SlotDefinition{Format: 0, DurationCount: 5, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x014a), word)

	sd, err := DecodeSlotDefinition(word)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), sd.Format)
	assert.Equal(t, uint16(5), sd.DurationCount)
	assert.Equal(t, uint8(10), sd.Count)

	again, err := EncodeSlotDefinition(sd)
	require.NoError(t, err)
	assert.Equal(t, word, again)
}

func TestSlotDefinition_Format1Layout(t *testing.T) {
	// format 1, duration count 1000, 7 slots
	word := uint16(1<<15 | 1000<<3 | 7)
	sd, err := DecodeSlotDefinition(word)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), sd.Format)
	assert.Equal(t, uint16(1000), sd.DurationCount)
	assert.Equal(t, uint8(7), sd.Count)
	assert.False(t, sd.CrossBoundary)
}

func TestSlotDefinition_CrossBoundaryBit(t *testing.T) {
	sd, err := DecodeSlotDefinition(1<<14 | 3)
	require.NoError(t, err)
	assert.True(t, sd.CrossBoundary)
	assert.Equal(t, uint8(3), sd.Count)
}

func TestSlotDefinition_ZeroCountRejected(t *testing.T) {
	_, err := DecodeSlotDefinition(5 << 6)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeSlotDefinition(1<<15 | 9<<3)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSlotDefinition_EncodeOutOfRange(t *testing.T) {
	_, err := EncodeSlotDefinition(SlotDefinition{Format: 0, DurationCount: 256, Count: 1})
	assert.Error(t, err)
	_, err = EncodeSlotDefinition(SlotDefinition{Format: 1, DurationCount: 1, Count: 8})
	assert.Error(t, err)
	_, err = EncodeSlotDefinition(SlotDefinition{Format: 0, DurationCount: 1, Count: 0})
	assert.Error(t, err)
}

func TestDecodeRAWAssignment_GroupWord(t *testing.T) {
	b := []byte{
		0x04,       // generic RAW
		0x02, 0x00, // format 0, 2 slots
		0x00,             // start time
		0x28, 0x80, 0x02, // page 0, start 10, end 20
		0, 0, 0, 0, 0,
		50, // slot duration in ms
	}
	a, err := DecodeRAWAssignment(b)
	require.NoError(t, err)
	assert.True(t, a.Paged())
	assert.Equal(t, uint8(0), a.Page)
	assert.Equal(t, uint16(10), a.StartAID)
	assert.Equal(t, uint16(20), a.EndAID)
	assert.Equal(t, uint8(2), a.Slot.Count)
	assert.Equal(t, 50*time.Millisecond, a.SlotDuration())

	enc, err := a.Encode()
	require.NoError(t, err)
	assert.Equal(t, b, enc)
}

func TestDecodeRAWAssignment_PageBits(t *testing.T) {
	a := &RAWAssignment{RawType: 1, Slot: SlotDefinition{Count: 1}, Page: 3, StartAID: 0, EndAID: 1023}
	enc, err := a.Encode()
	require.NoError(t, err)

	got, err := DecodeRAWAssignment(enc)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.Page)
	assert.Equal(t, uint16(1023), got.EndAID)
	assert.False(t, got.Paged())
}

func TestDecodeRAWAssignment_Malformed(t *testing.T) {
	_, err := DecodeRAWAssignment(make([]byte, 12))
	assert.ErrorIs(t, err, ErrMalformed)

	zeroSlots := make([]byte, RAWAssignmentLen)
	_, err = DecodeRAWAssignment(zeroSlots)
	assert.ErrorIs(t, err, ErrMalformed)

	inverted := &RAWAssignment{Slot: SlotDefinition{Count: 1}, StartAID: 5, EndAID: 5}
	enc, err := inverted.Encode()
	require.NoError(t, err)
	// rewrite the group word to start 6, end 5
	g := uint32(6<<2 | 5<<13)
	enc[4], enc[5], enc[6] = byte(g), byte(g>>8), byte(g>>16)
	_, err = DecodeRAWAssignment(enc)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAuthControl_Layout(t *testing.T) {
	ac, err := DecodeAuthControl([]byte{0x90, 0x01})
	require.NoError(t, err)
	assert.False(t, ac.Distributed)
	assert.Equal(t, uint16(200), ac.Threshold)

	ac, err = DecodeAuthControl((&AuthControl{Distributed: true, Threshold: 1023}).Encode())
	require.NoError(t, err)
	assert.True(t, ac.Distributed)
	assert.Equal(t, uint16(1023), ac.Threshold)

	_, err = DecodeAuthControl([]byte{0x01})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestIterateElements_Truncated(t *testing.T) {
	err := IterateElements([]byte{0, 3, 'a', 'b'}, func(uint8, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrMalformed)

	err = IterateElements([]byte{0, 0, 1}, func(uint8, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestIterateElements_ShortTrailingElement(t *testing.T) {
	var ids []uint8
	err := IterateElements([]byte{0, 2, 'h', 'i', 222, 2, 0x90, 0x01}, func(id uint8, _ []byte) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint8{ElementSSID, ElementAuthControl}, ids)
}
