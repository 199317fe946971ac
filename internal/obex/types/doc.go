// Package types defines the OBEX wire constants shared by every layer of the
// protocol engine: request opcodes, response codes, header identifiers,
// session parameter tags and the error taxonomy returned by the engine API.
//
// All multi-byte values on the wire are big-endian. A packet always starts
// with a one byte opcode (or response code) followed by a two byte total
// length that includes the opcode and length fields themselves:
//
//	[opcode:1][length:2][fixed fields][headers...]
//
// Connect requests and responses carry version, flags and MTU as fixed
// fields, SetPath requests carry flags and a constants byte, everything
// else starts its headers directly after the length field.
package types
