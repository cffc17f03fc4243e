package sas

import (
	"bytes"
	"encoding/binary"
)

// Encoders mirror the decode layouts bit-exact. They exist for fixtures and
// local tooling; production code only ever reads attestation-service records.

func EncodeCredential(c *Credential) []byte {
	var buf bytes.Buffer
	buf.Write(credentialDiscriminator[:])
	buf.Write(c.Holder.Bytes())
	writeString(&buf, c.SchemaID)
	buf.Write(c.Issuer.Bytes())
	writeI64(&buf, c.IssuedAt)
	if c.ExpiresAt != nil {
		buf.WriteByte(1)
		writeI64(&buf, *c.ExpiresAt)
	} else {
		buf.WriteByte(0)
	}
	writeBool(&buf, c.Revoked)
	writeBytes(&buf, c.Data)
	buf.WriteByte(c.Bump)
	return buf.Bytes()
}

func EncodeSchema(s *Schema) []byte {
	var buf bytes.Buffer
	buf.Write(schemaDiscriminator[:])
	writeString(&buf, s.SchemaID)
	buf.Write(s.Issuer.Bytes())
	writeI64(&buf, s.CreatedAt)
	writeU32(&buf, uint32(len(s.Fields)))
	for _, field := range s.Fields {
		writeString(&buf, field.Name)
		buf.WriteByte(field.FieldType)
		writeBool(&buf, field.Required)
	}
	buf.WriteByte(s.Bump)
	return buf.Bytes()
}

func EncodeAttestation(a *Attestation) []byte {
	var buf bytes.Buffer
	buf.WriteByte(attestationRecordType)
	buf.Write(a.Nonce.Bytes())
	buf.Write(a.Credential.Bytes())
	buf.Write(a.Schema.Bytes())
	writeBytes(&buf, a.Data)
	buf.Write(a.Signer.Bytes())
	writeI64(&buf, a.Expiry)
	buf.Write(a.TokenAccount.Bytes())
	return buf.Bytes()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, v []byte) {
	writeU32(buf, uint32(len(v)))
	buf.Write(v)
}

func writeString(buf *bytes.Buffer, v string) {
	writeBytes(buf, []byte(v))
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
		return
	}
	buf.WriteByte(0)
}
