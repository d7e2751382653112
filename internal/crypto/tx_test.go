package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsula-wallet/capsula/pkg/types"
)

func legacyTx() *types.UnsignedTransaction {
	return &types.UnsignedTransaction{
		From:     testAddress,
		To:       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Value:    "1000000000000000000",
		GasLimit: 21000,
		GasPrice: "20000000000",
		Nonce:    7,
		ChainID:  1,
	}
}

func dynamicTx() *types.UnsignedTransaction {
	tx := legacyTx()
	tx.GasPrice = ""
	tx.MaxFeePerGas = "30000000000"
	tx.MaxPriorityFeePerGas = "1000000000"
	tx.ChainID = 8453
	tx.Data = "0xa9059cbb"
	return tx
}

func TestSignTransaction(t *testing.T) {
	pk, err := ParsePrivateKey(testPrivateKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		tx   *types.UnsignedTransaction
	}{
		{"legacy", legacyTx()},
		{"dynamic fee", dynamicTx()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := SignTransaction(tt.tx, pk)
			require.NoError(t, err)

			assert.Equal(t, *tt.tx, signed.UnsignedTransaction)
			assert.NotEmpty(t, signed.Signature.R)
			assert.NotEmpty(t, signed.Signature.S)
			assert.NotEmpty(t, signed.Signature.V)
			assert.Len(t, signed.Hash, 66)

			decoded, err := VerifySignedTransaction(signed)
			require.NoError(t, err)
			assert.Equal(t, signed.Hash, decoded.Hash().Hex())
		})
	}
}

func TestVerifySignedTransaction_DetectsMutation(t *testing.T) {
	pk, err := ParsePrivateKey(testPrivateKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(s *types.SignedTransaction)
	}{
		{"value changed", func(s *types.SignedTransaction) { s.Value = "2000000000000000000" }},
		{"recipient changed", func(s *types.SignedTransaction) { s.To = testAddress }},
		{"nonce changed", func(s *types.SignedTransaction) { s.Nonce++ }},
		{"gas changed", func(s *types.SignedTransaction) { s.GasLimit = 50000 }},
		{"signature changed", func(s *types.SignedTransaction) { s.Signature.S = "0x1" }},
		{"hash changed", func(s *types.SignedTransaction) { s.Hash = "0x" + s.Hash[4:] + "00" }},
		{"sender changed", func(s *types.SignedTransaction) { s.From = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := SignTransaction(legacyTx(), pk)
			require.NoError(t, err)
			tt.mutate(signed)

			_, err = VerifySignedTransaction(signed)
			assert.ErrorIs(t, err, ErrTransactionMismatch)
		})
	}
}

func TestBuildTransaction_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(u *types.UnsignedTransaction)
	}{
		{"bad recipient", func(u *types.UnsignedTransaction) { u.To = "0x123" }},
		{"bad value", func(u *types.UnsignedTransaction) { u.Value = "12abc" }},
		{"bad data", func(u *types.UnsignedTransaction) { u.Data = "0xzz" }},
		{"bad gas price", func(u *types.UnsignedTransaction) { u.GasPrice = "abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := legacyTx()
			tt.mutate(u)
			_, err := BuildTransaction(u)
			assert.Error(t, err)
		})
	}
}

func TestSignMessage(t *testing.T) {
	pk, err := ParsePrivateKey(testPrivateKey)
	require.NoError(t, err)

	msg := []byte("Sign in to Capsula")
	sig, err := SignMessage(msg, pk)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	signer, err := RecoverMessageSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, signer.Hex())

	other, err := RecoverMessageSigner([]byte("different"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, testAddress, other.Hex())
}
