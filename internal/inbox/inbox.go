package inbox

import (
	"bytes"
	"errors"
	"sync"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/types"
)

// bodyHeaderSize is the identifier and length prefix of a Body header.
const bodyHeaderSize = 3

// Options configures an Inbox.
type Options struct {
	// Password answers authentication prompts. With no password the
	// prompts are refused.
	Password []byte
	UserID   []byte

	// ReadOnly refuses every request that would change the store.
	ReadOnly bool
}

// Inbox answers OBEX server indications from a Store. Each connection
// keeps its own current folder and in-flight transfer. A transfer cut
// short by link loss inside a reliable session is parked per peer and
// picked up again when the peer resumes the session.
type Inbox struct {
	store *Store
	opts  Options

	// conns is only touched from the engine loop. Response calls may
	// deliver the next event before they return, so handlers finish
	// updating connState before answering.
	conns map[engine.Handle]*connState

	mu     sync.Mutex
	parked map[types.BDAddr]*transfer
}

type connState struct {
	folder   string
	reliable bool
	xfer     *transfer
}

// transfer is a Put being received or a Get being sent.
type transfer struct {
	folder string
	name   string
	typ    string
	length uint32

	put  bool
	data []byte

	// off is the number of bytes of data already sent by a Get.
	off int
}

// New returns an Inbox serving store.
func New(store *Store, opts Options) *Inbox {
	return &Inbox{
		store:  store,
		opts:   opts,
		conns:  map[engine.Handle]*connState{},
		parked: map[types.BDAddr]*transfer{},
	}
}

// Store returns the object store.
func (in *Inbox) Store() *Store { return in.store }

// Parked returns the number of transfers waiting for a session resume.
func (in *Inbox) Parked() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.parked)
}

// Sink returns the engine sink answering server indications. Events of
// client connections are released and otherwise ignored.
func (in *Inbox) Sink() engine.Sink {
	return func(c *engine.Conn, ev event.Event) {
		defer ev.Release()
		s := c.Server()
		if s == nil {
			return
		}

		st := in.conns[c.Handle()]
		if st == nil {
			st = &connState{}
			in.conns[c.Handle()] = st
		}
		peer := c.Transport().PeerAddr()

		switch ev.Kind {
		case event.Connect:
			st.folder = ""
			st.xfer = nil
			answer(s.ConnectResponse(types.StatusOK, nil), ev)
		case event.PasswordRequired:
			answer(s.Password(in.opts.Password, in.opts.UserID), ev)
		case event.Put:
			in.put(s, st, ev)
		case event.Get:
			in.get(s, st, ev)
		case event.SetPath:
			in.setPath(s, st, ev)
		case event.Action:
			in.action(s, st, ev)
		case event.Abort:
			st.xfer = nil
			answer(s.AbortResponse(types.StatusOK), ev)
		case event.Disconnect:
			st.xfer = nil
			answer(s.DisconnectResponse(types.StatusOK, nil), ev)
		case event.Session:
			in.session(s, st, peer, ev)
		case event.Close:
			in.closed(st, peer, ev)
			delete(in.conns, c.Handle())
		}
	}
}

func answer(err error, ev event.Event) {
	if err != nil {
		logger.Warn("Inbox response failed", logger.Event(ev.Kind), logger.Err(err))
	}
}

// statusFor maps a store error to a response code.
func statusFor(err error) types.Status {
	switch {
	case err == nil:
		return types.StatusOK
	case errors.Is(err, ErrNotFound):
		return types.StatusNotFound
	case errors.Is(err, ErrExists):
		return types.StatusConflict
	case errors.Is(err, ErrInvalidName):
		return types.StatusBadRequest
	case errors.Is(err, ErrTooLarge):
		return types.StatusRequestEntityTooLarge
	case errors.Is(err, ErrFull):
		return types.StatusDatabaseFull
	default:
		return types.StatusInternalServerError
	}
}

// typeOf returns the Type header without its null terminator.
func typeOf(p *packet.Packet) string {
	h, ok := header.Find(p, types.HdrType)
	if !ok {
		return ""
	}
	return string(bytes.TrimRight(h.Value, "\x00"))
}

// =============================================================================
// Put
// =============================================================================

func (in *Inbox) put(s *server.Session, st *connState, ev event.Event) {
	p := ev.Packet
	if p == nil {
		answer(s.PutResponse(types.StatusBadRequest, nil), ev)
		st.xfer = nil
		return
	}

	if st.xfer == nil || !st.xfer.put {
		st.xfer = &transfer{folder: st.folder, put: true}
	}
	x := st.xfer
	if name, ok := header.FindString(p, types.HdrName); ok && x.name == "" {
		x.name = name
	}
	if t := typeOf(p); t != "" && x.typ == "" {
		x.typ = t
	}
	if n, ok := header.FindUint32(p, types.HdrLength); ok && x.length == 0 {
		x.length = n
	}

	fail := func(code types.Status) {
		st.xfer = nil
		answer(s.PutResponse(code, nil), ev)
	}

	if in.opts.ReadOnly {
		fail(types.StatusForbidden)
		return
	}
	if limit := in.store.limits.MaxObjectSize; limit > 0 && int64(x.length) > limit {
		fail(types.StatusRequestEntityTooLarge)
		return
	}
	if body, _, ok := header.ReadBody(p); ok {
		x.data = append(x.data, body...)
		if limit := in.store.limits.MaxObjectSize; limit > 0 && int64(len(x.data)) > limit {
			fail(types.StatusRequestEntityTooLarge)
			return
		}
	}

	if !ev.Final {
		answer(s.PutResponse(types.StatusContinue, nil), ev)
		return
	}

	st.xfer = nil
	var err error
	switch {
	case x.name == "":
		err = ErrInvalidName
	case ev.Delete:
		err = in.store.Delete(x.folder, x.name)
	default:
		err = in.store.Put(x.folder, Object{Name: x.name, Type: x.typ, Data: x.data})
	}
	code := statusFor(err)
	if err != nil {
		logger.Info("Put refused", logger.KeyName, x.name, logger.Status(code), logger.Err(err))
	} else {
		logger.Info("Put completed",
			logger.KeyName, x.name,
			logger.KeyType, x.typ,
			logger.Bytes(len(x.data)),
			"delete", ev.Delete,
			"create_empty", ev.CreateEmpty)
	}
	answer(s.PutResponse(code, nil), ev)
}

// =============================================================================
// Get
// =============================================================================

func (in *Inbox) get(s *server.Session, st *connState, ev event.Event) {
	x := st.xfer
	if x == nil || x.put {
		// A Get without a packet is only generated while streaming an
		// object already in progress.
		if ev.Packet == nil {
			answer(s.GetResponse(types.StatusInternalServerError, nil), ev)
			return
		}
		name, ok := header.FindString(ev.Packet, types.HdrName)
		if !ok || name == "" {
			answer(s.GetResponse(types.StatusBadRequest, nil), ev)
			return
		}
		obj, err := in.store.Get(st.folder, name)
		if err != nil {
			answer(s.GetResponse(statusFor(err), nil), ev)
			return
		}
		x = &transfer{folder: st.folder, name: obj.Name, typ: obj.Type, data: obj.Data}
		st.xfer = x
	}

	p := s.NewPacket()
	if x.off == 0 {
		hs := []header.Header{header.Uint32(types.HdrLength, uint32(len(x.data)))}
		if x.typ != "" {
			hs = append(hs, header.Bytes(types.HdrType, append([]byte(x.typ), 0)))
		}
		if err := header.EncodeAll(p, hs...); err != nil {
			p.Release()
			st.xfer = nil
			answer(s.GetResponse(types.StatusInternalServerError, nil), ev)
			return
		}
	}

	room := p.Cap() - bodyHeaderSize
	rest := x.data[min(x.off, len(x.data)):]
	id, code := types.HdrEndOfBody, types.StatusOK
	if len(rest) > room {
		rest = rest[:room]
		id, code = types.HdrBody, types.StatusContinue
	}
	if err := header.Encode(p, header.Bytes(id, rest)); err != nil {
		p.Release()
		st.xfer = nil
		answer(s.GetResponse(types.StatusInternalServerError, nil), ev)
		return
	}
	x.off += len(rest)
	if code == types.StatusOK {
		st.xfer = nil
		logger.Info("Get completed", logger.KeyName, x.name, logger.Bytes(len(x.data)))
	}
	answer(s.GetResponse(code, p), ev)
}

// =============================================================================
// SetPath and Action
// =============================================================================

func (in *Inbox) setPath(s *server.Session, st *connState, ev event.Event) {
	var name string
	var hasName bool
	if ev.Packet != nil {
		name, hasName = header.FindString(ev.Packet, types.HdrName)
	}
	folder := st.folder

	if ev.SetPathFlags&types.SetPathBackup != 0 {
		if folder == "" {
			answer(s.SetPathResponse(types.StatusNotFound, nil), ev)
			return
		}
		folder = parent(folder)
	} else if !hasName || name == "" {
		folder = ""
	}

	if name != "" {
		child := key(folder, name)
		switch {
		case !ValidName(name):
			answer(s.SetPathResponse(types.StatusBadRequest, nil), ev)
			return
		case in.store.HasFolder(child):
			folder = child
		case ev.SetPathFlags&types.SetPathNoCreate != 0:
			answer(s.SetPathResponse(types.StatusNotFound, nil), ev)
			return
		case in.opts.ReadOnly:
			answer(s.SetPathResponse(types.StatusForbidden, nil), ev)
			return
		default:
			created, err := in.store.Mkdir(folder, name)
			if err != nil {
				answer(s.SetPathResponse(statusFor(err), nil), ev)
				return
			}
			folder = created
		}
	}

	st.folder = folder
	logger.Debug("Folder changed", logger.KeyName, "/"+folder)
	answer(s.SetPathResponse(types.StatusOK, nil), ev)
}

func parent(folder string) string {
	i := len(folder) - 1
	for i >= 0 && folder[i] != '/' {
		i--
	}
	if i < 0 {
		return ""
	}
	return folder[:i]
}

func (in *Inbox) action(s *server.Session, st *connState, ev event.Event) {
	if in.opts.ReadOnly {
		answer(s.ActionResponse(types.StatusForbidden, nil), ev)
		return
	}
	if ev.Packet == nil {
		answer(s.ActionResponse(types.StatusBadRequest, nil), ev)
		return
	}
	name, _ := header.FindString(ev.Packet, types.HdrName)

	var err error
	switch ev.ActionID {
	case types.ActionCopy, types.ActionMove:
		dest, _ := header.FindString(ev.Packet, types.HdrDestName)
		if ev.ActionID == types.ActionCopy {
			err = in.store.Copy(st.folder, name, dest)
		} else {
			err = in.store.Move(st.folder, name, dest)
		}
	case types.ActionSetPermissions:
		perms, ok := header.FindUint32(ev.Packet, types.HdrPermissions)
		if !ok {
			answer(s.ActionResponse(types.StatusBadRequest, nil), ev)
			return
		}
		err = in.store.SetPermissions(st.folder, name, perms)
	default:
		answer(s.ActionResponse(types.StatusNotImplemented, nil), ev)
		return
	}
	code := statusFor(err)
	logger.Info("Action", "action", ev.ActionID.String(), logger.KeyName, name, logger.Status(code))
	answer(s.ActionResponse(code, nil), ev)
}

// =============================================================================
// Reliable sessions
// =============================================================================

func (in *Inbox) session(s *server.Session, st *connState, peer types.BDAddr, ev event.Event) {
	switch ev.SessionOp {
	case types.SessOpCreate:
		st.reliable = true
	case types.SessOpResume:
		st.reliable = true
		in.mu.Lock()
		x, ok := in.parked[peer]
		delete(in.parked, peer)
		in.mu.Unlock()
		if ok {
			st.folder = x.folder
			st.xfer = x.resumeAt(int(ev.Offset))
			logger.Info("Transfer resumed", logger.KeyName, x.name, logger.KeyOffset, ev.Offset)
		}
	case types.SessOpClose:
		st.reliable = false
		in.mu.Lock()
		delete(in.parked, peer)
		in.mu.Unlock()
	}
	answer(s.SessionResponse(types.StatusOK, ev.SSN, ev.Offset, nil), ev)
}

// resumeAt positions the transfer at offset object bytes.
func (x *transfer) resumeAt(offset int) *transfer {
	offset = min(max(offset, 0), len(x.data))
	if x.put {
		x.data = x.data[:offset]
	} else {
		x.off = offset
	}
	return x
}

func (in *Inbox) closed(st *connState, peer types.BDAddr, ev event.Event) {
	if !st.reliable || st.xfer == nil || errors.Is(ev.Err, server.ErrProtocol) {
		return
	}
	in.mu.Lock()
	in.parked[peer] = st.xfer
	in.mu.Unlock()
	logger.Info("Transfer parked until resume", logger.KeyPeer, peer.String(), logger.KeyName, st.xfer.name)
}
