package obexclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

// bodyOverhead is the header id and length preceding body bytes.
const bodyOverhead = 3

// Push sends r to the peer as an object called name. A negative size omits
// the Length header.
func (c *Client) Push(ctx context.Context, name, typ string, r io.Reader, size int64) error {
	hs, err := objectHeaders(name, typ, size)
	if err != nil {
		return err
	}

	buf := make([]byte, types.MaxMTU)
	first := true
	for {
		var final bool
		err := c.do(ctx, func(cl *client.Client) error {
			p := cl.NewPacket()
			if first {
				if err := header.EncodeAll(p, hs...); err != nil {
					p.Release()
					return err
				}
			}
			n, end, err := readChunk(r, buf[:max(p.Cap()-bodyOverhead, 0)])
			if err != nil {
				p.Release()
				return err
			}
			id := types.HdrBody
			if end {
				id = types.HdrEndOfBody
			}
			if err := header.Encode(p, header.Bytes(id, buf[:n])); err != nil {
				p.Release()
				return err
			}
			final = end
			return cl.Put(end, p)
		})
		if err != nil {
			c.abort(ctx)
			return fmt.Errorf("push %s: %w", name, err)
		}
		first = false

		ev, err := c.wait(ctx, event.Put)
		if err != nil {
			return err
		}
		ev.Release()
		if final || ev.Status != types.StatusContinue {
			return check("push "+name, ev.Status)
		}
	}
}

// readChunk fills b from r. end reports that r is exhausted.
func readChunk(r io.Reader, b []byte) (n int, end bool, err error) {
	n, err = io.ReadFull(r, b)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, true, nil
	case err != nil:
		return n, false, err
	}
	if len(b) == 0 {
		return 0, false, fmt.Errorf("%w: no room for a body", packet.ErrOverflow)
	}
	return n, false, nil
}

func objectHeaders(name, typ string, size int64) ([]header.Header, error) {
	var hs []header.Header
	if name != "" {
		h, err := header.Unicode(types.HdrName, name)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	if typ != "" {
		hs = append(hs, header.Bytes(types.HdrType, append([]byte(typ), 0)))
	}
	if size >= 0 && size <= 0xFFFFFFFF {
		hs = append(hs, header.Uint32(types.HdrLength, uint32(size)))
	}
	return hs, nil
}

// Pull fetches the object called name into w and returns the byte count.
func (c *Client) Pull(ctx context.Context, name, typ string, w io.Writer) (int64, error) {
	hs, err := objectHeaders(name, typ, -1)
	if err != nil {
		return 0, err
	}
	err = c.do(ctx, func(cl *client.Client) error {
		p := cl.NewPacket()
		if err := header.EncodeAll(p, hs...); err != nil {
			p.Release()
			return err
		}
		return cl.Get(true, p)
	})
	if err != nil {
		return 0, fmt.Errorf("pull %s: %w", name, err)
	}

	var total int64
	for {
		ev, err := c.wait(ctx, event.Get)
		if err != nil {
			return total, err
		}
		n, werr := writeBody(w, ev.Packet)
		total += int64(n)
		ev.Release()
		if werr != nil {
			c.abort(ctx)
			return total, werr
		}
		if ev.Status != types.StatusContinue {
			return total, check("pull "+name, ev.Status)
		}

		err = c.do(ctx, func(cl *client.Client) error { return cl.Get(true, nil) })
		if err != nil {
			return total, fmt.Errorf("pull %s: %w", name, err)
		}
	}
}

func writeBody(w io.Writer, p *packet.Packet) (int, error) {
	if p == nil {
		return 0, nil
	}
	body, _, ok := header.ReadBody(p)
	if !ok || len(body) == 0 {
		return 0, nil
	}
	return w.Write(body)
}

// Delete removes the object called name.
func (c *Client) Delete(ctx context.Context, name string) error {
	hs, err := objectHeaders(name, "", -1)
	if err != nil {
		return err
	}
	err = c.do(ctx, func(cl *client.Client) error {
		p := cl.NewPacket()
		if err := header.EncodeAll(p, hs...); err != nil {
			p.Release()
			return err
		}
		return cl.Put(true, p)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	ev, err := c.wait(ctx, event.Put)
	if err != nil {
		return err
	}
	ev.Release()
	return check("delete "+name, ev.Status)
}

// SetPath changes the server's current folder. An empty name with up unset
// returns to the root; create allows the folder to be made.
func (c *Client) SetPath(ctx context.Context, name string, up, create bool) error {
	var flags uint8
	if up {
		flags |= types.SetPathBackup
	}
	if !create {
		flags |= types.SetPathNoCreate
	}
	var hs []header.Header
	if name != "" || !up {
		h, err := header.Unicode(types.HdrName, name)
		if err != nil {
			return err
		}
		hs = append(hs, h)
	}
	err := c.do(ctx, func(cl *client.Client) error {
		p := cl.NewPacket()
		if err := header.EncodeAll(p, hs...); err != nil {
			p.Release()
			return err
		}
		return cl.SetPath(flags, p)
	})
	if err != nil {
		return fmt.Errorf("setpath %q: %w", name, err)
	}
	ev, err := c.wait(ctx, event.SetPath)
	if err != nil {
		return err
	}
	ev.Release()
	return check("setpath "+name, ev.Status)
}

// abort cancels the operation in progress, ignoring the outcome.
func (c *Client) abort(ctx context.Context) {
	if err := c.do(ctx, func(cl *client.Client) error { return cl.Abort() }); err != nil {
		return
	}
	if ev, err := c.wait(ctx, event.Abort); err == nil {
		ev.Release()
	}
}
