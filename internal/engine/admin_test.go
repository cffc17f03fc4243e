package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/spoutfi/rwa/backend/internal/kyc"
	"github.com/spoutfi/rwa/backend/internal/spout"
)

type adminFixture struct {
	chain      *fakeChain
	admin      *Admin
	programID  solana.PublicKey
	sasProgram solana.PublicKey
	signer     solana.PrivateKey
}

// newAdminFixture stores a config record whose authority either matches the
// admin's signer or belongs to someone else.
func newAdminFixture(t *testing.T, signerIsAuthority bool) *adminFixture {
	t.Helper()

	f := &adminFixture{
		chain:      newFakeChain(engineTestNow),
		programID:  solana.NewWallet().PublicKey(),
		sasProgram: solana.NewWallet().PublicKey(),
		signer:     solana.NewWallet().PrivateKey,
	}

	authority := f.signer.PublicKey()
	if !signerIsAuthority {
		authority = solana.NewWallet().PublicKey()
	}

	configKey, _, err := spout.DeriveConfigPDA(f.programID)
	require.NoError(t, err)
	configData, err := spout.EncodeAccount(spout.AccountConfig, spout.Config{
		Authority:  authority,
		SasProgram: f.sasProgram,
	})
	require.NoError(t, err)
	f.chain.put(configKey, f.programID, configData)

	f.admin = NewAdmin(f.programID, f.sasProgram, f.chain, f.signer,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func validAssetParams() CreateAssetParams {
	return CreateAssetParams{
		Mint:        solana.NewWallet().PublicKey(),
		Name:        "Tesla Stock Token",
		Symbol:      "TSLA",
		TotalSupply: 1_000_000_000,
		KycRequired: true,
		KycSchemaID: "kyc-v1",
	}
}

func TestUpdatePriceRejectsNonAuthority(t *testing.T) {
	f := newAdminFixture(t, false)

	_, err := f.admin.UpdatePrice(context.Background(), 150_000_000, 10_000, 0)
	require.ErrorIs(t, err, ErrNotAuthority)
	require.Empty(t, f.chain.sent, "no transaction may be submitted by a non-authority")
}

func TestUpdatePriceAsAuthority(t *testing.T) {
	f := newAdminFixture(t, true)

	_, err := f.admin.UpdatePrice(context.Background(), 150_000_000, 10_000, 0)
	require.NoError(t, err)
	require.Len(t, f.chain.sent, 1)
	require.Equal(t, []solana.PrivateKey{f.signer}, f.chain.signers[0])
}

func TestUpdatePriceWithoutConfig(t *testing.T) {
	f := newAdminFixture(t, true)
	f.chain.accounts = map[solana.PublicKey]kyc.Account{}

	_, err := f.admin.UpdatePrice(context.Background(), 150_000_000, 10_000, 0)
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestCreateAssetRejectsNonAuthority(t *testing.T) {
	f := newAdminFixture(t, false)

	_, err := f.admin.CreateAsset(context.Background(), validAssetParams())
	require.ErrorIs(t, err, ErrNotAuthority)
	require.Empty(t, f.chain.sent)
}

func TestCreateAssetAsAuthority(t *testing.T) {
	f := newAdminFixture(t, true)

	_, err := f.admin.CreateAsset(context.Background(), validAssetParams())
	require.NoError(t, err)
	require.Len(t, f.chain.sent, 1)
	require.Equal(t, f.programID, f.chain.sent[0][0].ProgramID())
}

func TestCreateAssetValidatesBounds(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CreateAssetParams)
		wantErr error
	}{
		{"empty name", func(p *CreateAssetParams) { p.Name = "" }, ErrEmptyName},
		{"name too long", func(p *CreateAssetParams) { p.Name = strings.Repeat("a", spout.MaxNameLen+1) }, ErrNameTooLong},
		{"empty symbol", func(p *CreateAssetParams) { p.Symbol = "" }, ErrEmptySymbol},
		{"symbol too long", func(p *CreateAssetParams) { p.Symbol = strings.Repeat("S", spout.MaxSymbolLen+1) }, ErrSymbolTooLong},
		{"schema id too long", func(p *CreateAssetParams) { p.KycSchemaID = strings.Repeat("s", spout.MaxKycSchemaIDLen+1) }, ErrSchemaIDTooLong},
		{"gated without schema", func(p *CreateAssetParams) { p.KycSchemaID = "" }, ErrSchemaIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAdminFixture(t, true)
			params := validAssetParams()
			tc.mutate(&params)

			_, err := f.admin.CreateAsset(context.Background(), params)
			require.ErrorIs(t, err, tc.wantErr)
			require.Empty(t, f.chain.sent, "a rejected listing must not reach the chain")
		})
	}
}

func TestCreateSchemaRejectsNonAuthority(t *testing.T) {
	f := newAdminFixture(t, false)

	_, err := f.admin.CreateSchema(context.Background(), "kyc-v1", []spout.SchemaField{
		{Name: "kyc_completed", FieldType: 1, Required: true},
	})
	require.ErrorIs(t, err, ErrNotAuthority)
	require.Empty(t, f.chain.sent)
}
