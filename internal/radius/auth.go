package radius

import (
	"crypto/md5" //nolint:gosec // G501: MD5 is the RADIUS integrity primitive (RFC 2865 Section 3)
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Request authenticator - RFC 2865 Section 3
// -------------------------------------------------------------------------

// NewAuthenticator returns 16 unpredictable bytes for use as a request
// authenticator, one per request.
//
// RFC 2865 Section 3 only requires unpredictability over the lifetime of
// the shared secret; this implementation draws from crypto/rand rather
// than a time-and-identity hash, a deliberate hardening choice since the
// password obscuring keystream is derived from this value.
func NewAuthenticator() ([AuthenticatorSize]byte, error) {
	var auth [AuthenticatorSize]byte
	if _, err := rand.Read(auth[:]); err != nil {
		return auth, fmt.Errorf("new authenticator: %w", err)
	}
	return auth, nil
}

// -------------------------------------------------------------------------
// Password obscuring - RFC 2865 Section 5.2
// -------------------------------------------------------------------------

// ObscurePassword hides a password with the block-chained XOR scheme:
// the password is zero-padded to a multiple of 16 and split into blocks
// P1..Pn, then
//
//	B1 = MD5(secret || authenticator)   C1 = P1 XOR B1
//	Bi = MD5(secret || C(i-1))          Ci = Pi XOR Bi
//
// and the result is C1 || ... || Cn. Blocks are processed strictly left
// to right: each block's keystream depends on the previous ciphertext
// block. An empty password still produces one 16-byte block
// (RFC 2865 Section 5.2: "at least 16 octets").
func ObscurePassword(secret []byte, authenticator [AuthenticatorSize]byte, password []byte) []byte {
	blocks := (len(password) + 15) / 16
	if blocks == 0 {
		blocks = 1
	}

	out := make([]byte, blocks*16)
	copy(out, password)

	prev := authenticator[:]
	for off := 0; off < len(out); off += 16 {
		h := md5.New() //nolint:gosec // G401: the obscuring keystream is defined over MD5
		h.Write(secret)
		h.Write(prev)
		block := h.Sum(nil)

		for i := range 16 {
			out[off+i] ^= block[i]
		}
		prev = out[off : off+16]
	}

	return out
}

// RevealPassword reverses ObscurePassword. The keystream for block i is
// derived from the received ciphertext block i-1, so blocks decode left
// to right against the unmodified input.
//
// Trailing NUL bytes are stripped: they are indistinguishable from the
// zero padding added by ObscurePassword. Returns an error if the input
// length is not a positive multiple of 16.
func RevealPassword(secret []byte, authenticator [AuthenticatorSize]byte, obscured []byte) ([]byte, error) {
	if len(obscured) == 0 || len(obscured)%16 != 0 {
		return nil, fmt.Errorf("reveal password: %d bytes: %w", len(obscured), ErrBadPassword)
	}

	out := make([]byte, len(obscured))

	prev := authenticator[:]
	for off := 0; off < len(obscured); off += 16 {
		h := md5.New() //nolint:gosec // G401: the obscuring keystream is defined over MD5
		h.Write(secret)
		h.Write(prev)
		block := h.Sum(nil)

		for i := range 16 {
			out[off+i] = obscured[off+i] ^ block[i]
		}
		prev = obscured[off : off+16]
	}

	end := len(out)
	for end > 0 && out[end-1] == 0 {
		end--
	}

	return out[:end], nil
}

// -------------------------------------------------------------------------
// Accounting request signature - RFC 2866 Section 3
// -------------------------------------------------------------------------

// SignAccountingRequest serializes p with a zeroed authenticator slot,
// computes MD5(encoded bytes || secret), and patches the digest into the
// authenticator position of the encoded buffer. The patch is a byte-level
// splice, not a re-encode.
//
// p.Authenticator is updated to the computed signature so the caller can
// verify the matching Accounting-Response against it.
func SignAccountingRequest(secret []byte, p *Packet) ([]byte, error) {
	req := *p
	req.Authenticator = [AuthenticatorSize]byte{}

	wire, err := Encode(&req)
	if err != nil {
		return nil, err
	}

	h := md5.New() //nolint:gosec // G401: the request signature is defined over MD5
	h.Write(wire)
	h.Write(secret)
	sum := h.Sum(nil)

	copy(wire[4:HeaderSize], sum)
	copy(p.Authenticator[:], sum)

	return wire, nil
}

// VerifyAccountingRequest checks an Accounting-Request signature: the
// received authenticator must equal MD5 over the packet with a zeroed
// authenticator slot followed by the secret.
func VerifyAccountingRequest(secret []byte, wire []byte) bool {
	if len(wire) < HeaderSize {
		return false
	}

	var received [AuthenticatorSize]byte
	copy(received[:], wire[4:HeaderSize])

	scratch := make([]byte, len(wire))
	copy(scratch, wire)
	for i := 4; i < HeaderSize; i++ {
		scratch[i] = 0
	}

	h := md5.New() //nolint:gosec // G401: the request signature is defined over MD5
	h.Write(scratch)
	h.Write(secret)

	return subtle.ConstantTimeCompare(h.Sum(nil), received[:]) == 1
}

// -------------------------------------------------------------------------
// Response verification - RFC 2865 Section 3
// -------------------------------------------------------------------------

// VerifyResponse checks a reply's response authenticator against the
// authenticator of the request it answers: the received digest must equal
// MD5(Code || Identifier || Length || requestAuth || attributes || secret)
// over the declared packet length. Replies failing this check are forged
// or answer a different request and must be ignored.
func VerifyResponse(secret []byte, requestAuth [AuthenticatorSize]byte, wire []byte) bool {
	if len(wire) < HeaderSize {
		return false
	}

	length := int(binary.BigEndian.Uint16(wire[2:4]))
	if length < HeaderSize || length > len(wire) {
		return false
	}

	var received [AuthenticatorSize]byte
	copy(received[:], wire[4:HeaderSize])

	scratch := make([]byte, length)
	copy(scratch, wire[:length])
	copy(scratch[4:HeaderSize], requestAuth[:])

	h := md5.New() //nolint:gosec // G401: the response authenticator is defined over MD5
	h.Write(scratch)
	h.Write(secret)

	return subtle.ConstantTimeCompare(h.Sum(nil), received[:]) == 1
}
