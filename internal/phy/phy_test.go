package phy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawsim/internal/dot11"
)

var peer = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}

func TestModel_SupportedRates(t *testing.T) {
	rates := DefaultModel().SupportedRates()
	assert.Equal(t, len(DefaultModes), rates.Len())
	assert.True(t, rates.IsSupportedRate(54000000))
	assert.False(t, rates.HasMembershipSelector(SelectorHTPhy))

	ht := HTModel().SupportedRates()
	assert.True(t, ht.HasMembershipSelector(SelectorHTPhy))
}

func TestModel_Compatible(t *testing.T) {
	htModel := HTModel()
	assert.True(t, htModel.Compatible(htModel.SupportedRates()))
	assert.False(t, htModel.Compatible(DefaultModel().SupportedRates()))
	assert.True(t, DefaultModel().Compatible(dot11.SupportedRates{}))
}

func TestModel_HTCapabilities(t *testing.T) {
	assert.Nil(t, DefaultModel().HTCapabilities())

	caps := HTModel().HTCapabilities()
	require.NotNil(t, caps)
	assert.True(t, caps.ShortGI20)
	assert.True(t, caps.IsSupportedMCS(7))
	assert.False(t, caps.IsSupportedMCS(8))
}

func TestRemoteStationManager_Import(t *testing.T) {
	local := HTModel()
	var rates dot11.SupportedRates
	rates.SetBasicRate(6000000)
	rates.AddSupportedRate(24000000)
	ht := &dot11.HTCapabilities{}
	ht.SetRxMCS(3)
	ht.SetRxMCS(12)

	m := NewRemoteStationManager()
	m.Import(local, peer, rates, ht)

	st, ok := m.Lookup(peer)
	require.True(t, ok)
	assert.Len(t, st.SupportedModes, 2)
	assert.Equal(t, []uint8{3}, st.SupportedMCS)
	assert.Same(t, ht, st.HT)
	require.Len(t, m.BasicModes(), 1)
	assert.Equal(t, uint64(6000000), m.BasicModes()[0].DataRate)

	m.Import(local, peer, rates, ht)
	st, _ = m.Lookup(peer)
	assert.Len(t, st.SupportedModes, 2)
	assert.Len(t, m.BasicModes(), 1)
}

func TestRemoteStationManager_NonHTSkipsMCS(t *testing.T) {
	ht := &dot11.HTCapabilities{}
	ht.SetRxMCS(0)
	m := NewRemoteStationManager()
	m.Import(DefaultModel(), peer, DefaultModel().SupportedRates(), ht)

	st, ok := m.Lookup(peer)
	require.True(t, ok)
	assert.Empty(t, st.SupportedMCS)
	assert.Nil(t, st.HT)
}
