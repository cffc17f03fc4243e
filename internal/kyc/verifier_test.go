package kyc

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/spoutfi/rwa/backend/internal/sas"
)

const testSchemaID = "kyc-v1"

type fixture struct {
	sasProgram     solana.PublicKey
	holder         solana.PublicKey
	schemaKey      solana.PublicKey
	credentialKey  solana.PublicKey
	attestationKey solana.PublicKey

	credential  sas.Credential
	schema      sas.Schema
	attestation sas.Attestation
	now         int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sasProgram := solana.NewWallet().PublicKey()
	holder := solana.NewWallet().PublicKey()

	schemaKey, _, err := sas.DeriveSchemaPDA(sasProgram, testSchemaID)
	require.NoError(t, err)
	credentialKey, _, err := sas.DeriveCredentialPDA(sasProgram, holder, testSchemaID)
	require.NoError(t, err)
	attestationKey, _, err := sas.DeriveAttestationPDA(sasProgram, credentialKey, schemaKey, holder)
	require.NoError(t, err)

	now := int64(1_700_000_000)
	return &fixture{
		sasProgram:     sasProgram,
		holder:         holder,
		schemaKey:      schemaKey,
		credentialKey:  credentialKey,
		attestationKey: attestationKey,
		credential: sas.Credential{
			Holder:   holder,
			SchemaID: testSchemaID,
			IssuedAt: now - 1000,
		},
		schema: sas.Schema{
			SchemaID:  testSchemaID,
			CreatedAt: now - 2000,
			Fields:    []sas.SchemaFieldDecl{{Name: "kyc_completed", FieldType: 1, Required: true}},
		},
		attestation: sas.Attestation{
			Nonce:      holder,
			Credential: credentialKey,
			Schema:     schemaKey,
			Data:       []byte{1},
			Expiry:     now + 86400,
		},
		now: now,
	}
}

func (f *fixture) request() Request {
	return Request{
		Holder:           f.holder,
		RequiredSchemaID: testSchemaID,
		Attestation: Account{
			Address: f.attestationKey,
			Owner:   f.sasProgram,
			Data:    sas.EncodeAttestation(&f.attestation),
		},
		Credential: Account{
			Address: f.credentialKey,
			Owner:   f.sasProgram,
			Data:    sas.EncodeCredential(&f.credential),
		},
		Schema: Account{
			Address: f.schemaKey,
			Owner:   f.sasProgram,
			Data:    sas.EncodeSchema(&f.schema),
		},
		Now: f.now,
	}
}

func (f *fixture) verify(req Request) (*Result, error) {
	return NewVerifier(f.sasProgram).Verify(req)
}

func TestVerifyAcceptsValidRecords(t *testing.T) {
	f := newFixture(t)

	result, err := f.verify(f.request())
	require.NoError(t, err)
	require.Equal(t, f.holder, result.Credential.Holder)
	require.Equal(t, testSchemaID, result.Schema.SchemaID)
	require.True(t, result.Attestation.KycCompleted())
}

func TestVerifyAcceptsCredentialWithoutExpiry(t *testing.T) {
	f := newFixture(t)
	f.credential.ExpiresAt = nil

	_, err := f.verify(f.request())
	require.NoError(t, err)
}

func TestVerifyRejectsMissingAccounts(t *testing.T) {
	f := newFixture(t)

	for name, mutate := range map[string]func(*Request){
		"attestation": func(r *Request) { r.Attestation.Data = nil },
		"credential":  func(r *Request) { r.Credential.Data = nil },
		"schema":      func(r *Request) { r.Schema.Data = nil },
	} {
		t.Run(name, func(t *testing.T) {
			req := f.request()
			mutate(&req)
			_, err := f.verify(req)
			require.ErrorIs(t, err, ErrAccountNotInitialized)
			require.True(t, Denied(err))
		})
	}
}

func TestVerifyRejectsForeignOwner(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Credential.Owner = solana.NewWallet().PublicKey()

	_, err := f.verify(req)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsSpoofedAddress(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Attestation.Address = solana.NewWallet().PublicKey()

	_, err := f.verify(req)
	require.ErrorIs(t, err, ErrAddressMismatch)
}

func TestVerifyRejectsSchemaMismatch(t *testing.T) {
	f := newFixture(t)
	f.credential.SchemaID = "kyc-v2"

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestVerifyRejectsAttestationBoundToOtherRecords(t *testing.T) {
	f := newFixture(t)
	f.attestation.Credential = solana.NewWallet().PublicKey()

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrAddressMismatch)
}

func TestVerifyRejectsRevokedCredential(t *testing.T) {
	f := newFixture(t)
	f.credential.Revoked = true

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrCredentialRevoked)
}

func TestVerifyRejectsExpiredCredential(t *testing.T) {
	f := newFixture(t)
	expired := f.now - 1
	f.credential.ExpiresAt = &expired

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerifyRejectsCredentialExpiringExactlyNow(t *testing.T) {
	f := newFixture(t)
	boundary := f.now
	f.credential.ExpiresAt = &boundary

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerifyRejectsExpiredAttestation(t *testing.T) {
	f := newFixture(t)
	f.attestation.Expiry = f.now - 1

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerifyRejectsHolderMismatch(t *testing.T) {
	f := newFixture(t)
	f.credential.Holder = solana.NewWallet().PublicKey()

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrHolderMismatch)
}

func TestVerifyRejectsNonceMismatch(t *testing.T) {
	f := newFixture(t)
	f.attestation.Nonce = solana.NewWallet().PublicKey()

	_, err := f.verify(f.request())
	require.ErrorIs(t, err, ErrHolderMismatch)
}

func TestVerifyRejectsIncompletePayload(t *testing.T) {
	f := newFixture(t)

	for name, data := range map[string][]byte{
		"empty": {},
		"zero":  {0},
		"other": {2},
	} {
		t.Run(name, func(t *testing.T) {
			f.attestation.Data = data
			_, err := f.verify(f.request())
			require.ErrorIs(t, err, ErrKycNotCompleted)
		})
	}
}

func TestVerifyRejectsMalformedRecordAsDenial(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Credential.Data = req.Credential.Data[:10]

	_, err := f.verify(req)
	require.ErrorIs(t, err, sas.ErrMalformedRecord)
	require.True(t, Denied(err))
}

func TestDeniedExcludesUnrelatedErrors(t *testing.T) {
	require.False(t, Denied(nil))
	require.False(t, Denied(errors.New("rpc timeout")))
}
