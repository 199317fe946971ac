// Package auth implements OBEX challenge/response authentication.
//
// A peer that wants the other side to authenticate sends an
// Authentication-Challenge header carrying a fresh nonce. The other side
// answers with an Authentication-Response header carrying
// MD5(nonce ":" password) and, when the challenge asked for it, a user ID.
// Either peer may challenge, which gives mutual authentication.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/digest"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

var (
	// ErrDigestMismatch is returned when a response digest does not match
	// the expected value.
	ErrDigestMismatch = errors.New("auth: digest mismatch")

	// ErrMissingNonce is returned for a challenge without a usable nonce.
	ErrMissingNonce = errors.New("auth: challenge without nonce")

	// ErrMissingDigest is returned for a response without a digest.
	ErrMissingDigest = errors.New("auth: response without digest")

	// ErrUserIDRequired is returned when the challenge required a user ID
	// and the response carries none.
	ErrUserIDRequired = errors.New("auth: user ID required")
)

// Challenge is the content of an Authentication-Challenge header.
type Challenge struct {
	Nonce          [types.NonceSize]byte
	UserIDRequired bool
	ReadOnly       bool
	// Realm is the raw realm value; its first byte is the character set.
	Realm []byte
}

// Options returns the options byte.
func (c Challenge) Options() uint8 {
	var o uint8
	if c.UserIDRequired {
		o |= types.ChallengeOptUserID
	}
	if c.ReadOnly {
		o |= types.ChallengeOptReadOnly
	}
	return o
}

// Header encodes the challenge.
func (c Challenge) Header() (header.Header, error) {
	ts := header.TripletSet{{Tag: types.ChallengeTagNonce, Value: c.Nonce[:]}}
	if o := c.Options(); o != 0 {
		ts = append(ts, header.Triplet{Tag: types.ChallengeTagOptions, Value: []byte{o}})
	}
	if len(c.Realm) > 0 {
		ts = append(ts, header.Triplet{Tag: types.ChallengeTagRealm, Value: c.Realm})
	}
	return header.Triplets(types.HdrAuthChallenge, ts)
}

// ParseChallenge decodes challenge triplets. The nonce is mandatory.
func ParseChallenge(ts header.TripletSet) (Challenge, error) {
	var c Challenge
	nonce, ok := ts.Get(types.ChallengeTagNonce)
	if !ok || len(nonce) != types.NonceSize {
		return c, ErrMissingNonce
	}
	copy(c.Nonce[:], nonce)
	if o, ok := ts.GetUint8(types.ChallengeTagOptions); ok {
		c.UserIDRequired = o&types.ChallengeOptUserID != 0
		c.ReadOnly = o&types.ChallengeOptReadOnly != 0
	}
	if realm, ok := ts.Get(types.ChallengeTagRealm); ok {
		c.Realm = append([]byte(nil), realm...)
	}
	return c, nil
}

// FindChallenge reads the challenge of a packet. found is false when the
// packet carries no challenge header.
func FindChallenge(p *packet.Packet) (c Challenge, found bool, err error) {
	ts, err := header.ReadTripletSet(p, types.HdrAuthChallenge)
	if errors.Is(err, header.ErrNotFound) {
		return c, false, nil
	}
	if err != nil {
		return c, true, err
	}
	c, err = ParseChallenge(ts)
	return c, true, err
}

// Response is the content of an Authentication-Response header.
type Response struct {
	Digest [digest.Size]byte
	UserID []byte
	// Nonce echoes the challenge nonce being answered. It is optional.
	Nonce []byte
}

// NewResponse answers a challenge.
func NewResponse(c Challenge, password, userID []byte) (Response, error) {
	if c.UserIDRequired && len(userID) == 0 {
		return Response{}, ErrUserIDRequired
	}
	if len(userID) > types.MaxUserIDSize {
		return Response{}, fmt.Errorf("%w: user ID longer than %d bytes", types.ErrBadParameters, types.MaxUserIDSize)
	}
	return Response{
		Digest: digest.Digest(c.Nonce[:], password),
		UserID: userID,
		Nonce:  append([]byte(nil), c.Nonce[:]...),
	}, nil
}

// Header encodes the response.
func (r Response) Header() (header.Header, error) {
	ts := header.TripletSet{{Tag: types.ResponseTagDigest, Value: r.Digest[:]}}
	if len(r.UserID) > 0 {
		ts = append(ts, header.Triplet{Tag: types.ResponseTagUserID, Value: r.UserID})
	}
	if len(r.Nonce) > 0 {
		ts = append(ts, header.Triplet{Tag: types.ResponseTagNonce, Value: r.Nonce})
	}
	return header.Triplets(types.HdrAuthResponse, ts)
}

// ParseResponse decodes response triplets. The digest is mandatory.
func ParseResponse(ts header.TripletSet) (Response, error) {
	var r Response
	d, ok := ts.Get(types.ResponseTagDigest)
	if !ok || len(d) != digest.Size {
		return r, ErrMissingDigest
	}
	copy(r.Digest[:], d)
	if u, ok := ts.Get(types.ResponseTagUserID); ok {
		r.UserID = append([]byte(nil), u...)
	}
	if n, ok := ts.Get(types.ResponseTagNonce); ok {
		r.Nonce = append([]byte(nil), n...)
	}
	return r, nil
}

// FindResponse reads the response of a packet.
func FindResponse(p *packet.Packet) (r Response, found bool, err error) {
	ts, err := header.ReadTripletSet(p, types.HdrAuthResponse)
	if errors.Is(err, header.ErrNotFound) {
		return r, false, nil
	}
	if err != nil {
		return r, true, err
	}
	r, err = ParseResponse(ts)
	return r, true, err
}

// Verify checks a response against the nonce the verifier issued. The
// comparison runs in constant time.
func Verify(c Challenge, password []byte, r Response) error {
	if c.UserIDRequired && len(r.UserID) == 0 {
		return ErrUserIDRequired
	}
	want := digest.Digest(c.Nonce[:], password)
	if subtle.ConstantTimeCompare(want[:], r.Digest[:]) != 1 {
		return ErrDigestMismatch
	}
	return nil
}
