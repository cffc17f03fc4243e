package sas

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestDerivationIsDeterministic(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("22zoJMtdu4tQc2PzL74ZUT7FrwgB1Udec8DdW4yw4BdG")
	holder := solana.NewWallet().PublicKey()

	schemaA, bumpA, err := DeriveSchemaPDA(program, "kyc-v1")
	require.NoError(t, err)
	schemaB, bumpB, err := DeriveSchemaPDA(program, "kyc-v1")
	require.NoError(t, err)
	require.Equal(t, schemaA, schemaB)
	require.Equal(t, bumpA, bumpB)

	credA, _, err := DeriveCredentialPDA(program, holder, "kyc-v1")
	require.NoError(t, err)
	credB, _, err := DeriveCredentialPDA(program, holder, "kyc-v1")
	require.NoError(t, err)
	require.Equal(t, credA, credB)

	attA, _, err := DeriveAttestationPDA(program, credA, schemaA, holder)
	require.NoError(t, err)
	attB, _, err := DeriveAttestationPDA(program, credA, schemaA, holder)
	require.NoError(t, err)
	require.Equal(t, attA, attB)
}

func TestDerivationSeparatesInputs(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("22zoJMtdu4tQc2PzL74ZUT7FrwgB1Udec8DdW4yw4BdG")
	holderA := solana.NewWallet().PublicKey()
	holderB := solana.NewWallet().PublicKey()

	schemaV1, _, err := DeriveSchemaPDA(program, "kyc-v1")
	require.NoError(t, err)
	schemaV2, _, err := DeriveSchemaPDA(program, "kyc-v2")
	require.NoError(t, err)
	require.NotEqual(t, schemaV1, schemaV2)

	credA, _, err := DeriveCredentialPDA(program, holderA, "kyc-v1")
	require.NoError(t, err)
	credB, _, err := DeriveCredentialPDA(program, holderB, "kyc-v1")
	require.NoError(t, err)
	require.NotEqual(t, credA, credB)

	attA, _, err := DeriveAttestationPDA(program, credA, schemaV1, holderA)
	require.NoError(t, err)
	attB, _, err := DeriveAttestationPDA(program, credA, schemaV1, holderB)
	require.NoError(t, err)
	require.NotEqual(t, attA, attB)
}
