package yellowstone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecName(t *testing.T) {
	require.Equal(t, "yellowstone-json", Codec.Name())
}

func TestCodecRoundTripsSubscribeRequest(t *testing.T) {
	req := SubscribeRequest{
		Slots: map[string]SubscribeRequestFilterSlots{"all": {}},
		Transactions: map[string]SubscribeRequestFilterTransactions{
			"votes": {Vote: true, Failed: false, AccountInclude: []string{"vote1", "vote2"}},
		},
		Commitment: CommitmentConfirmed,
	}

	data, err := Codec.Marshal(req)
	require.NoError(t, err)

	var got SubscribeRequest
	require.NoError(t, Codec.Unmarshal(data, &got))
	require.Equal(t, req, got)
}

func TestCodecRoundTripsSubscribeUpdateTransaction(t *testing.T) {
	update := SubscribeUpdate{
		Transaction: &SubscribeUpdateTransaction{
			Slot:              12345,
			Signature:         []byte{1, 2, 3},
			IdentityPubkey:    "identity1",
			VoteAccountPubkey: "vote1",
			Instructions: []SubscribeUpdateTransactionInstruction{
				{ProgramID: VoteProgramIDForTest, Data: []byte{0xaa, 0xbb}},
			},
		},
	}

	data, err := Codec.Marshal(update)
	require.NoError(t, err)

	var got SubscribeUpdate
	require.NoError(t, Codec.Unmarshal(data, &got))
	require.NotNil(t, got.Transaction)
	require.Equal(t, update.Transaction.Slot, got.Transaction.Slot)
	require.Equal(t, update.Transaction.Instructions, got.Transaction.Instructions)
}

func TestCodecRoundTripsPing(t *testing.T) {
	update := SubscribeUpdate{Ping: &struct{}{}}

	data, err := Codec.Marshal(update)
	require.NoError(t, err)

	var got SubscribeUpdate
	require.NoError(t, Codec.Unmarshal(data, &got))
	require.NotNil(t, got.Ping)
	require.Nil(t, got.Slot)
	require.Nil(t, got.Transaction)
}

// VoteProgramIDForTest avoids importing internal/votedecoder (which would
// be a one-off, otherwise-unneeded dependency just for a test constant).
const VoteProgramIDForTest = "Vote111111111111111111111111111111111111111"
