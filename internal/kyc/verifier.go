// Package kyc implements the trust boundary of the system: the composite
// attestation check that every value-moving operation runs before any balance
// changes. The checks short-circuit at the first failure and each failure
// carries a distinct reason.
package kyc

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/spoutfi/rwa/backend/internal/sas"
)

// Denial reasons. Verify never proceeds past the first failing check.
var (
	ErrAccountNotInitialized = errors.New("kyc account not initialized")
	ErrUnauthorized          = errors.New("kyc account not owned by attestation program")
	ErrAddressMismatch       = errors.New("kyc account address does not match derived address")
	ErrSchemaMismatch        = errors.New("credential schema does not match required schema")
	ErrCredentialRevoked     = errors.New("credential revoked")
	ErrCredentialExpired     = errors.New("credential expired")
	ErrHolderMismatch        = errors.New("attestation subject does not match holder")
	ErrKycNotCompleted       = errors.New("attestation payload does not signal completed kyc")
)

// Denied reports whether err is one of the verifier's denial reasons (or a
// malformed external record, which is equally a denial).
func Denied(err error) bool {
	for _, reason := range []error{
		ErrAccountNotInitialized,
		ErrUnauthorized,
		ErrAddressMismatch,
		ErrSchemaMismatch,
		ErrCredentialRevoked,
		ErrCredentialExpired,
		ErrHolderMismatch,
		ErrKycNotCompleted,
		sas.ErrMalformedRecord,
	} {
		if errors.Is(err, reason) {
			return true
		}
	}
	return false
}

// Account is the fetched state of one on-chain account.
type Account struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
}

func (a Account) empty() bool {
	return len(a.Data) == 0
}

// Request carries everything one verification needs. Now is the ledger time in
// unix seconds.
type Request struct {
	Holder           solana.PublicKey
	RequiredSchemaID string
	Attestation      Account
	Credential       Account
	Schema           Account
	Now              int64
}

// Result is the decoded record set of a successful verification.
type Result struct {
	Credential  *sas.Credential
	Schema      *sas.Schema
	Attestation *sas.Attestation
}

// Verifier validates attestation records against one configured attestation
// program identity.
type Verifier struct {
	sasProgram solana.PublicKey
}

func NewVerifier(sasProgram solana.PublicKey) *Verifier {
	return &Verifier{sasProgram: sasProgram}
}

// Program returns the attestation program identity this verifier trusts.
func (v *Verifier) Program() solana.PublicKey {
	return v.sasProgram
}

// Verify runs the full check sequence. A nil error means the holder is
// verified; any non-nil error is a denial and the caller must not move value.
func (v *Verifier) Verify(req Request) (*Result, error) {
	// 1. Records must exist.
	for _, acc := range []struct {
		name string
		acc  Account
	}{
		{"attestation", req.Attestation},
		{"credential", req.Credential},
		{"schema", req.Schema},
	} {
		if acc.acc.empty() {
			return nil, fmt.Errorf("%w: %s %s", ErrAccountNotInitialized, acc.name, acc.acc.Address)
		}
	}

	// 2. Records must be owned by the configured attestation program. Anyone
	// can create an account at an arbitrary address; only the attestation
	// program can own one.
	for _, acc := range []struct {
		name string
		acc  Account
	}{
		{"attestation", req.Attestation},
		{"credential", req.Credential},
		{"schema", req.Schema},
	} {
		if !acc.acc.Owner.Equals(v.sasProgram) {
			return nil, fmt.Errorf("%w: %s owned by %s", ErrUnauthorized, acc.name, acc.acc.Owner)
		}
	}

	// 3. Provided addresses must equal the derived ones, otherwise a caller
	// could substitute records belonging to a different subject or schema.
	schemaKey, _, err := sas.DeriveSchemaPDA(v.sasProgram, req.RequiredSchemaID)
	if err != nil {
		return nil, fmt.Errorf("derive schema address: %w", err)
	}
	credentialKey, _, err := sas.DeriveCredentialPDA(v.sasProgram, req.Holder, req.RequiredSchemaID)
	if err != nil {
		return nil, fmt.Errorf("derive credential address: %w", err)
	}
	attestationKey, _, err := sas.DeriveAttestationPDA(v.sasProgram, credentialKey, schemaKey, req.Holder)
	if err != nil {
		return nil, fmt.Errorf("derive attestation address: %w", err)
	}
	if !req.Schema.Address.Equals(schemaKey) {
		return nil, fmt.Errorf("%w: schema %s, expected %s", ErrAddressMismatch, req.Schema.Address, schemaKey)
	}
	if !req.Credential.Address.Equals(credentialKey) {
		return nil, fmt.Errorf("%w: credential %s, expected %s", ErrAddressMismatch, req.Credential.Address, credentialKey)
	}
	if !req.Attestation.Address.Equals(attestationKey) {
		return nil, fmt.Errorf("%w: attestation %s, expected %s", ErrAddressMismatch, req.Attestation.Address, attestationKey)
	}

	credential, err := sas.DecodeCredential(req.Credential.Data)
	if err != nil {
		return nil, err
	}
	schema, err := sas.DecodeSchema(req.Schema.Data)
	if err != nil {
		return nil, err
	}
	attestation, err := sas.DecodeAttestation(req.Attestation.Data)
	if err != nil {
		return nil, err
	}

	// 4. Schema binding.
	if credential.SchemaID != req.RequiredSchemaID {
		return nil, fmt.Errorf("%w: credential schema %q, required %q", ErrSchemaMismatch, credential.SchemaID, req.RequiredSchemaID)
	}
	if schema.SchemaID != req.RequiredSchemaID {
		return nil, fmt.Errorf("%w: schema record %q, required %q", ErrSchemaMismatch, schema.SchemaID, req.RequiredSchemaID)
	}
	if !attestation.Credential.Equals(credentialKey) || !attestation.Schema.Equals(schemaKey) {
		return nil, fmt.Errorf("%w: attestation references credential %s schema %s", ErrAddressMismatch, attestation.Credential, attestation.Schema)
	}

	// 5. Revocation.
	if credential.Revoked {
		return nil, fmt.Errorf("%w: holder %s", ErrCredentialRevoked, req.Holder)
	}

	// 6. Expiry, on both the credential and the attestation instance.
	if credential.ExpiresAt != nil && *credential.ExpiresAt <= req.Now {
		return nil, fmt.Errorf("%w: credential expired at %d", ErrCredentialExpired, *credential.ExpiresAt)
	}
	if attestation.Expiry <= req.Now {
		return nil, fmt.Errorf("%w: attestation expired at %d", ErrCredentialExpired, attestation.Expiry)
	}

	// 7. Holder binding.
	if !credential.Holder.Equals(req.Holder) {
		return nil, fmt.Errorf("%w: credential holder %s", ErrHolderMismatch, credential.Holder)
	}
	if !attestation.Nonce.Equals(req.Holder) {
		return nil, fmt.Errorf("%w: attestation nonce %s", ErrHolderMismatch, attestation.Nonce)
	}

	if !attestation.KycCompleted() {
		return nil, fmt.Errorf("%w: holder %s", ErrKycNotCompleted, req.Holder)
	}

	return &Result{
		Credential:  credential,
		Schema:      schema,
		Attestation: attestation,
	}, nil
}
