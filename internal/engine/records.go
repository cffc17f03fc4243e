package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/spoutfi/rwa/backend/internal/kyc"
	"github.com/spoutfi/rwa/backend/internal/sas"
	"github.com/spoutfi/rwa/backend/internal/spout"
)

// KycRecordSet is the derived attestation record addresses for one holder and
// schema, together with the fetched account states.
type KycRecordSet struct {
	Keys        spout.KycAccounts
	Attestation kyc.Account
	Credential  kyc.Account
	Schema      kyc.Account
}

// FetchKycAccounts derives the attestation, credential, and schema addresses
// for the holder and loads all three in one RPC round trip. Missing accounts
// come back with empty data, not an error; the verifier rejects those.
func FetchKycAccounts(ctx context.Context, chain Chain, sasProgram, holder solana.PublicKey, schemaID string) (KycRecordSet, error) {
	schemaKey, _, err := sas.DeriveSchemaPDA(sasProgram, schemaID)
	if err != nil {
		return KycRecordSet{}, fmt.Errorf("derive schema address: %w", err)
	}
	credentialKey, _, err := sas.DeriveCredentialPDA(sasProgram, holder, schemaID)
	if err != nil {
		return KycRecordSet{}, fmt.Errorf("derive credential address: %w", err)
	}
	attestationKey, _, err := sas.DeriveAttestationPDA(sasProgram, credentialKey, schemaKey, holder)
	if err != nil {
		return KycRecordSet{}, fmt.Errorf("derive attestation address: %w", err)
	}

	fetched, err := chain.FetchAccounts(ctx, attestationKey, credentialKey, schemaKey)
	if err != nil {
		return KycRecordSet{}, err
	}

	return KycRecordSet{
		Keys: spout.KycAccounts{
			SasProgram:  sasProgram,
			Attestation: attestationKey,
			Credential:  credentialKey,
			Schema:      schemaKey,
		},
		Attestation: fetched[0],
		Credential:  fetched[1],
		Schema:      fetched[2],
	}, nil
}
