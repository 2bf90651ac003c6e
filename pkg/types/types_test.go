package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAID_Fields(t *testing.T) {
	aid := AID(0x0805) // page 1, index 5
	assert.Equal(t, uint8(1), aid.Page())
	assert.Equal(t, uint16(5), aid.Index())
	assert.True(t, aid.Valid())
	assert.Equal(t, "2053", aid.String())

	assert.False(t, AID(0).Valid())
	assert.False(t, AIDUnassociated.Valid())
	assert.Equal(t, "unassociated", AIDUnassociated.String())
}

func TestAccessCategoryForTID(t *testing.T) {
	want := map[uint8]AccessCategory{
		0: ACBestEffort, 1: ACBackground, 2: ACBackground, 3: ACBestEffort,
		4: ACVideo, 5: ACVideo, 6: ACVoice, 7: ACVoice, 9: ACBestEffort,
	}
	for tid, ac := range want {
		assert.Equal(t, ac, AccessCategoryForTID(tid), "tid %d", tid)
	}
	assert.Equal(t, "AC_VO", ACVoice.String())
}

func TestAssocState_String(t *testing.T) {
	assert.Equal(t, "Refused", Refused.String())
	assert.Equal(t, "BeaconMissed", BeaconMissed.String())
}
