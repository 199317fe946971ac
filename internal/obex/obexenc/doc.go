// Package obexenc provides big-endian cursor types for OBEX fixed fields.
//
// Reader accumulates the first error it encounters and turns every later
// read into a no-op returning a zero value, so a parser can read a whole
// structure and check Err once:
//
//	r := obexenc.NewReader(data)
//	op := r.ReadUint8()
//	length := r.ReadUint16()
//	if err := r.Err(); err != nil {
//	    return err
//	}
//
// Writer appends into a caller supplied slice with the same error model,
// and supports back-patching the length field once headers are known.
package obexenc
