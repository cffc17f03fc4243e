// Package sas consumes the attestation-service program: it reproduces its
// address-derivation convention and decodes its externally owned record
// layouts. Nothing here ever writes an attestation record.
package sas

import (
	"github.com/gagliardetto/solana-go"
)

var (
	seedSchema      = []byte("schema")
	seedCredential  = []byte("credential")
	seedAttestation = []byte("attestation")
)

// DeriveSchemaPDA computes the schema record address for a schema id.
// Seeds: ["schema", schema_id].
func DeriveSchemaPDA(sasProgram solana.PublicKey, schemaID string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedSchema, []byte(schemaID)}, sasProgram)
}

// DeriveCredentialPDA computes the credential record address for a holder and
// schema id. Seeds: ["credential", holder, schema_id].
func DeriveCredentialPDA(sasProgram solana.PublicKey, holder solana.PublicKey, schemaID string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedCredential, holder.Bytes(), []byte(schemaID)}, sasProgram)
}

// DeriveAttestationPDA computes the attestation instance address. The nonce is
// the holder key in this deployment. Seeds: ["attestation", credential, schema,
// nonce]. Any divergence from the attestation program's own ordering produces a
// silently non-matching address, which the verifier treats as a hard failure.
func DeriveAttestationPDA(sasProgram solana.PublicKey, credential solana.PublicKey, schema solana.PublicKey, nonce solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedAttestation, credential.Bytes(), schema.Bytes(), nonce.Bytes()}, sasProgram)
}
