package jury_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/provider/providertest"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

func TestTierFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score uint
		want  jury.Tier
	}{
		{100, jury.TierGold},
		{85, jury.TierGold},
		{84, jury.TierSilver},
		{75, jury.TierSilver},
		{74, jury.TierBronze},
		{65, jury.TierBronze},
		{64, jury.TierNone},
		{0, jury.TierNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jury.TierFor(tt.score), "score %d", tt.score)
	}
}

func TestTier_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Gold", jury.TierGold.String())
	assert.Equal(t, "None", jury.TierNone.String())
	assert.Equal(t, "Tier(9)", jury.Tier(9).String())
}

func TestParseCategory(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    jury.Category
		wantErr bool
	}{
		{"leather", jury.CategoryLeather, false},
		{"Wood", jury.CategoryWood, false},
		{" MIXED ", jury.CategoryMixed, false},
		{"2", jury.CategoryMixed, false},
		{"glass", 0, true},
		{"3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := jury.ParseCategory(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, juryerr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScore_Validate(t *testing.T) {
	t.Parallel()
	require.NoError(t, jury.Score{Craftsmanship: 100, Detail: 0, Originality: 50}.Validate())

	err := jury.Score{Craftsmanship: 80, Detail: 101, Originality: 90}.Validate()
	require.ErrorIs(t, err, juryerr.ErrInvalidScore)
	assert.Equal(t, "101", juryerr.Detail(err, "detail"))
}

func TestWeightedPreview(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 79.0, jury.WeightedPreview(jury.Score{Craftsmanship: 80, Detail: 70, Originality: 90}), 1e-9)
	assert.InDelta(t, 100.0, jury.WeightedPreview(jury.Score{Craftsmanship: 100, Detail: 100, Originality: 100}), 1e-9)
}

func TestAddresses(t *testing.T) {
	t.Parallel()
	override := "0x000000000000000000000000000000000000dEaD"
	addrs := jury.NewAddresses(map[uint64]string{
		chain.Hardhat: override,
		chain.Mainnet: "not-an-address",
	})

	got, ok := addrs.Lookup(chain.Hardhat)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(override), got)

	_, ok = addrs.Lookup(chain.Mainnet)
	assert.False(t, ok)
	assert.Equal(t, []uint64{chain.Hardhat, chain.Sepolia}, addrs.ChainIDs())
}

func TestBind_NotDeployed(t *testing.T) {
	t.Parallel()
	_, err := jury.Bind(providertest.New(chain.Mainnet), chain.Mainnet, judge, jury.BindOptions{})
	require.ErrorIs(t, err, juryerr.ErrNotDeployed)
	assert.Equal(t, "1", juryerr.Detail(err, "chain_id"))

	_, err = jury.Bind(nil, chain.Hardhat, judge, jury.BindOptions{})
	require.ErrorIs(t, err, juryerr.ErrNoActiveProvider)
}

func TestParseLog_Unknown(t *testing.T) {
	t.Parallel()
	_, err := jury.ParseLog(types.Log{})
	require.ErrorIs(t, err, jury.ErrUnknownEvent)

	_, err = jury.ParseLog(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	require.ErrorIs(t, err, jury.ErrUnknownEvent)
}

func TestEvent_Summary(t *testing.T) {
	t.Parallel()
	ev := jury.Event{Name: jury.EventScoreSubmitted, WorkID: common.Big1, Judge: judge}
	assert.Equal(t, "Judge 0xf39F...2266 scored work #1", ev.Summary())

	ev = jury.Event{Name: jury.EventAwardPublished, GroupID: common.Big0, Score: 86, Tier: jury.TierGold}
	assert.Equal(t, "Group #0 awarded Gold (86)", ev.Summary())
}
