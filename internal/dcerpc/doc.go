// Package dcerpc implements a minimal connection-oriented DCE/RPC client
// (C706 chapter 12, MS-RPCE): the common PDU header, bind negotiation,
// request/response/fault PDUs, and fragment reassembly over a generic
// transact-style transport, plus the SAMR operations built on top.
//
// Only the unauthenticated NDR transfer syntax is spoken. Integers on the
// wire are little-endian throughout, matching the data representation
// label the codec emits.
package dcerpc
