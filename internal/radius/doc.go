// Package radius implements the RADIUS wire protocol (RFC 2865, RFC 2866).
//
// This includes the attribute dictionary, the TLV attribute codec, the
// packet codec with response-authenticator signing, and the password
// obscuring and accounting-signature routines.
package radius
