package sas

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) solana.PublicKey {
	t.Helper()
	wallet := solana.NewWallet()
	return wallet.PublicKey()
}

func TestDecodeCredentialRoundTrip(t *testing.T) {
	expires := int64(1_900_000_000)
	in := &Credential{
		Holder:    testKey(t),
		SchemaID:  "kyc-v1",
		Issuer:    testKey(t),
		IssuedAt:  1_700_000_000,
		ExpiresAt: &expires,
		Revoked:   false,
		Data:      []byte{0xde, 0xad},
		Bump:      254,
	}

	out, err := DecodeCredential(EncodeCredential(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCredentialNoExpiry(t *testing.T) {
	in := &Credential{
		Holder:   testKey(t),
		SchemaID: "kyc-v1",
		Issuer:   testKey(t),
		IssuedAt: 1_700_000_000,
		Revoked:  true,
		Data:     []byte{},
		Bump:     255,
	}

	out, err := DecodeCredential(EncodeCredential(in))
	require.NoError(t, err)
	require.Nil(t, out.ExpiresAt)
	require.True(t, out.Revoked)
}

func TestDecodeCredentialRejectsBadInput(t *testing.T) {
	valid := EncodeCredential(&Credential{
		Holder:   testKey(t),
		SchemaID: "kyc-v1",
		Issuer:   testKey(t),
	})

	cases := map[string][]byte{
		"empty":               {},
		"short discriminator": valid[:4],
		"truncated holder":    valid[:20],
		"truncated string":    valid[:44],
		"wrong discriminator": append([]byte{1, 2, 3, 4, 5, 6, 7, 8}, valid[8:]...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCredential(data)
			require.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestDecodeCredentialRejectsOversizedDataLength(t *testing.T) {
	valid := EncodeCredential(&Credential{
		Holder:   testKey(t),
		SchemaID: "kyc-v1",
		Issuer:   testKey(t),
		Data:     []byte{1, 2, 3},
	})
	// The data length prefix sits right before the 3 payload bytes and the
	// trailing bump. Inflate it past the remaining payload.
	lengthOffset := len(valid) - 3 - 1 - 4
	corrupted := append([]byte(nil), valid...)
	corrupted[lengthOffset] = 0xff
	corrupted[lengthOffset+1] = 0xff

	_, err := DecodeCredential(corrupted)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestDecodeSchemaRoundTrip(t *testing.T) {
	in := &Schema{
		SchemaID:  "kyc-v1",
		Issuer:    testKey(t),
		CreatedAt: 1_700_000_000,
		Fields: []SchemaFieldDecl{
			{Name: "kyc_completed", FieldType: 1, Required: true},
			{Name: "country", FieldType: 4, Required: false},
		},
		Bump: 253,
	}

	out, err := DecodeSchema(EncodeSchema(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeSchemaRejectsFieldCountBeyondPayload(t *testing.T) {
	in := &Schema{SchemaID: "kyc-v1", Issuer: testKey(t)}
	valid := EncodeSchema(in)
	// Field count follows discriminator + schema_id + issuer + created_at.
	countOffset := 8 + 4 + len(in.SchemaID) + 32 + 8
	corrupted := append([]byte(nil), valid...)
	corrupted[countOffset] = 0xff

	_, err := DecodeSchema(corrupted)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestDecodeAttestationRoundTrip(t *testing.T) {
	in := &Attestation{
		Nonce:        testKey(t),
		Credential:   testKey(t),
		Schema:       testKey(t),
		Data:         []byte{1},
		Signer:       testKey(t),
		Expiry:       1_900_000_000,
		TokenAccount: testKey(t),
	}

	out, err := DecodeAttestation(EncodeAttestation(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.True(t, out.KycCompleted())
}

func TestDecodeAttestationRejectsWrongRecordType(t *testing.T) {
	valid := EncodeAttestation(&Attestation{
		Nonce:      testKey(t),
		Credential: testKey(t),
		Schema:     testKey(t),
		Data:       []byte{1},
	})
	corrupted := append([]byte(nil), valid...)
	corrupted[0] = 7

	_, err := DecodeAttestation(corrupted)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestDecodeAttestationTruncated(t *testing.T) {
	valid := EncodeAttestation(&Attestation{
		Nonce:      testKey(t),
		Credential: testKey(t),
		Schema:     testKey(t),
		Data:       []byte{1},
	})

	for cut := 1; cut < len(valid); cut += 13 {
		_, err := DecodeAttestation(valid[:cut])
		require.ErrorIs(t, err, ErrMalformedRecord, "cut at %d", cut)
	}
}

func TestKycCompletedFlag(t *testing.T) {
	require.False(t, (&Attestation{}).KycCompleted())
	require.False(t, (&Attestation{Data: []byte{0}}).KycCompleted())
	require.False(t, (&Attestation{Data: []byte{2}}).KycCompleted())
	require.True(t, (&Attestation{Data: []byte{1}}).KycCompleted())
	require.True(t, (&Attestation{Data: []byte{1, 99}}).KycCompleted())
}
