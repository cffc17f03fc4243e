package sas

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// The attestation program's byte layouts are an external contract. Decoding is
// strictly length-guarded: truncated or structurally invalid input yields
// ErrMalformedRecord, never an out-of-bounds fault.
var ErrMalformedRecord = errors.New("malformed attestation-service record")

// Attestation records use a single leading type byte.
const attestationRecordType = byte(2)

// Credential and schema records carry Anchor-style 8-byte discriminators.
var (
	credentialDiscriminator = recordDiscriminator("SasCredential")
	schemaDiscriminator     = recordDiscriminator("SasSchema")
)

func recordDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// Credential binds a holder to a schema with issuance metadata and a
// revocation flag.
type Credential struct {
	Holder    solana.PublicKey
	SchemaID  string
	Issuer    solana.PublicKey
	IssuedAt  int64
	ExpiresAt *int64
	Revoked   bool
	Data      []byte
	Bump      uint8
}

// SchemaFieldDecl is one typed field declaration in a schema record.
type SchemaFieldDecl struct {
	Name      string
	FieldType uint8
	Required  bool
}

// Schema is a named attestation template.
type Schema struct {
	SchemaID  string
	Issuer    solana.PublicKey
	CreatedAt int64
	Fields    []SchemaFieldDecl
	Bump      uint8
}

// Attestation is the instance record binding a nonce (the holder key in this
// deployment) to a credential and schema, with an expiry and an opaque payload.
// By convention the payload's first byte signals completed KYC.
type Attestation struct {
	Nonce        solana.PublicKey
	Credential   solana.PublicKey
	Schema       solana.PublicKey
	Data         []byte
	Signer       solana.PublicKey
	Expiry       int64
	TokenAccount solana.PublicKey
}

// KycCompleted reports whether the opaque payload carries the completed-KYC
// flag in its leading byte.
func (a *Attestation) KycCompleted() bool {
	return len(a.Data) >= 1 && a.Data[0] == 1
}

func DecodeCredential(data []byte) (*Credential, error) {
	r, err := newRecordReader(data, "credential")
	if err != nil {
		return nil, err
	}
	if err := r.expectDiscriminator(credentialDiscriminator); err != nil {
		return nil, err
	}

	out := new(Credential)
	if out.Holder, err = r.pubkey("holder"); err != nil {
		return nil, err
	}
	if out.SchemaID, err = r.str("schema_id"); err != nil {
		return nil, err
	}
	if out.Issuer, err = r.pubkey("issuer"); err != nil {
		return nil, err
	}
	if out.IssuedAt, err = r.i64("issued_at"); err != nil {
		return nil, err
	}
	if out.ExpiresAt, err = r.optionalI64("expires_at"); err != nil {
		return nil, err
	}
	if out.Revoked, err = r.boolean("revoked"); err != nil {
		return nil, err
	}
	if out.Data, err = r.byteVec("data"); err != nil {
		return nil, err
	}
	if out.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	return out, nil
}

func DecodeSchema(data []byte) (*Schema, error) {
	r, err := newRecordReader(data, "schema")
	if err != nil {
		return nil, err
	}
	if err := r.expectDiscriminator(schemaDiscriminator); err != nil {
		return nil, err
	}

	out := new(Schema)
	if out.SchemaID, err = r.str("schema_id"); err != nil {
		return nil, err
	}
	if out.Issuer, err = r.pubkey("issuer"); err != nil {
		return nil, err
	}
	if out.CreatedAt, err = r.i64("created_at"); err != nil {
		return nil, err
	}
	count, err := r.u32("fields length")
	if err != nil {
		return nil, err
	}
	if count > uint32(len(r.remaining())) {
		return nil, r.fail("fields length exceeds payload")
	}
	out.Fields = make([]SchemaFieldDecl, 0, count)
	for i := uint32(0); i < count; i++ {
		var field SchemaFieldDecl
		if field.Name, err = r.str("field name"); err != nil {
			return nil, err
		}
		if field.FieldType, err = r.u8("field type"); err != nil {
			return nil, err
		}
		if field.Required, err = r.boolean("field required"); err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, field)
	}
	if out.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	return out, nil
}

func DecodeAttestation(data []byte) (*Attestation, error) {
	r, err := newRecordReader(data, "attestation")
	if err != nil {
		return nil, err
	}
	recordType, err := r.u8("record type")
	if err != nil {
		return nil, err
	}
	if recordType != attestationRecordType {
		return nil, r.fail(fmt.Sprintf("unexpected record type %d", recordType))
	}

	out := new(Attestation)
	if out.Nonce, err = r.pubkey("nonce"); err != nil {
		return nil, err
	}
	if out.Credential, err = r.pubkey("credential"); err != nil {
		return nil, err
	}
	if out.Schema, err = r.pubkey("schema"); err != nil {
		return nil, err
	}
	if out.Data, err = r.byteVec("data"); err != nil {
		return nil, err
	}
	if out.Signer, err = r.pubkey("signer"); err != nil {
		return nil, err
	}
	if out.Expiry, err = r.i64("expiry"); err != nil {
		return nil, err
	}
	if out.TokenAccount, err = r.pubkey("token_account"); err != nil {
		return nil, err
	}
	return out, nil
}

type recordReader struct {
	kind   string
	data   []byte
	offset int
}

func newRecordReader(data []byte, kind string) (*recordReader, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty %s record", ErrMalformedRecord, kind)
	}
	return &recordReader{kind: kind, data: data}, nil
}

func (r *recordReader) fail(detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedRecord, r.kind, detail)
}

func (r *recordReader) take(n int, field string) ([]byte, error) {
	if n < 0 || len(r.data)-r.offset < n {
		return nil, r.fail("truncated " + field)
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out, nil
}

func (r *recordReader) remaining() []byte {
	return r.data[r.offset:]
}

func (r *recordReader) expectDiscriminator(want [8]byte) error {
	got, err := r.take(8, "discriminator")
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want[:]) {
		return r.fail("discriminator mismatch")
	}
	return nil
}

func (r *recordReader) u8(field string) (uint8, error) {
	b, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *recordReader) boolean(field string) (bool, error) {
	v, err := r.u8(field)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, r.fail(fmt.Sprintf("invalid bool value %d in %s", v, field))
	}
}

func (r *recordReader) u32(field string) (uint32, error) {
	b, err := r.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *recordReader) i64(field string) (int64, error) {
	b, err := r.take(8, field)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *recordReader) optionalI64(field string) (*int64, error) {
	present, err := r.boolean(field + " flag")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := r.i64(field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *recordReader) pubkey(field string) (solana.PublicKey, error) {
	b, err := r.take(32, field)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func (r *recordReader) byteVec(field string) ([]byte, error) {
	length, err := r.u32(field + " length")
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(len(r.remaining())) {
		return nil, r.fail(field + " length exceeds payload")
	}
	b, err := r.take(int(length), field)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *recordReader) str(field string) (string, error) {
	b, err := r.byteVec(field)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
