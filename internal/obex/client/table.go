package client

import "github.com/marmos91/obexd/internal/obex/packet"

// action runs a transition. cand is the table's next state; the action
// returns it, returns another state to override it, or returns candidate
// or stay.
type action func(c *Client, p *packet.Packet, cand State) State

type entry struct {
	act  action
	next State
}

// table maps events to entries. An entry with a nil action blocks the
// event in that state, hiding the shared table.
type table map[evt]entry

var blocked = entry{}

var (
	stateTables [numStates]table
	// sharedTable covers events that behave the same in every connected
	// state.
	sharedTable table
)

func init() {
	stateTables = [numStates]table{
		NotConnected: {
			evConnectReq: {(*Client).actSend, ConnectReqSent},
			evSessionReq: {(*Client).actSessionReq, SessionReqSent},
			evPortClose:  {(*Client).actPortClose, NotConnected},
			evTimeout:    {(*Client).actTimeout, stay},
		},
		SessionReqSent: {
			evOKCfm:         {(*Client).actSessionCfm, candidate},
			evFailCfm:       {(*Client).actSessionCfm, candidate},
			evContCfm:       {(*Client).actProtoErr, NotConnected},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		ConnectReqSent: {
			evOKCfm:         {(*Client).actConnectCfm, Connected},
			evFailCfm:       {(*Client).actConnectCfm, NotConnected},
			evContCfm:       {(*Client).actProtoErr, NotConnected},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		Unauthorized: {
			evAuthRsp:       {(*Client).actAuthRsp, ConnectReqSent},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		Connected: {
			evPutReq:     {(*Client).actSend, PutReqSent},
			evGetReq:     {(*Client).actSend, GetReqSent},
			evSetPathReq: {(*Client).actSend, SetPathReqSent},
			evActionReq:  {(*Client).actSend, ActionReqSent},
			evSessionReq: {(*Client).actSessionReq, SessionReqSent},
			evAbortReq:   blocked,
		},
		DisconnectReqSent: {
			evOKCfm:         {(*Client).actDisconnectCfm, NotConnected},
			evFailCfm:       {(*Client).actDisconnectCfm, NotConnected},
			evContCfm:       {(*Client).actProtoErr, NotConnected},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		SetPathReqSent: {
			evOKCfm:         {(*Client).actSimpleCfm, Connected},
			evFailCfm:       {(*Client).actSimpleCfm, Connected},
			evContCfm:       {(*Client).actProtoErr, NotConnected},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		ActionReqSent: {
			evOKCfm:         {(*Client).actSimpleCfm, Connected},
			evFailCfm:       {(*Client).actSimpleCfm, Connected},
			evContCfm:       {(*Client).actProtoErr, NotConnected},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		AbortReqSent: {
			evOKCfm:         {(*Client).actAbortCfm, Connected},
			evFailCfm:       {(*Client).actAbortCfm, Connected},
			evContCfm:       {(*Client).actAbortCfm, Connected},
			evDisconnectReq: blocked,
			evAbortReq:      blocked,
		},
		PutReqSent: {
			evContCfm:       {(*Client).actPutCfm, PutTransaction},
			evOKCfm:         {(*Client).actPutCfm, Connected},
			evFailCfm:       {(*Client).actPutCfm, Connected},
			evDisconnectReq: blocked,
		},
		GetReqSent: {
			evContCfm:       {(*Client).actGetCfm, GetTransaction},
			evOKCfm:         {(*Client).actGetCfm, Connected},
			evFailCfm:       {(*Client).actGetCfm, Connected},
			evDisconnectReq: blocked,
		},
		PutTransaction: {
			evPutReq: {(*Client).actSend, PutReqSent},
		},
		GetTransaction: {
			evGetReq: {(*Client).actSend, GetReqSent},
		},
		PutSrm: {
			evPutReq:  {(*Client).actSrmPut, PutSrm},
			evContCfm: {(*Client).actSrmPutRsp, stay},
			evOKCfm:   {(*Client).actPutCfm, Connected},
			evFailCfm: {(*Client).actPutCfm, Connected},
		},
		GetSrm: {
			evGetReq:  {(*Client).actSrmGet, stay},
			evContCfm: {(*Client).actSrmGetRsp, stay},
			evOKCfm:   {(*Client).actSrmGetRsp, stay},
			evFailCfm: {(*Client).actSrmGetRsp, stay},
		},
		PartialSent: {
			evTxEmpty:       {(*Client).actResume, stay},
			evFlowOn:        {(*Client).actResume, stay},
			evAbortReq:      {(*Client).actQueue, stay},
			evDisconnectReq: {(*Client).actQueue, stay},
			evOKCfm:         {(*Client).actDefer, stay},
			evFailCfm:       {(*Client).actDefer, stay},
			evContCfm:       {(*Client).actDefer, stay},
		},
	}

	sharedTable = table{
		evAbortReq:      {(*Client).actAbort, AbortReqSent},
		evDisconnectReq: {(*Client).actDisconnect, DisconnectReqSent},
		evPortClose:     {(*Client).actPortClose, NotConnected},
		evState:         {(*Client).actSessionGone, NotConnected},
		evProtoErr:      {(*Client).actProtoErr, NotConnected},
		evTimeout:       {(*Client).actTimeout, stay},
	}
}

// lookup finds the entry for an event: the state's own table first, then
// the shared table for every state but NotConnected.
func lookup(s State, e evt) (entry, bool) {
	if s >= numStates {
		return entry{}, false
	}
	if ent, ok := stateTables[s][e]; ok {
		return ent, ent.act != nil
	}
	if s == NotConnected {
		return entry{}, false
	}
	ent, ok := sharedTable[e]
	return ent, ok
}

// accepts reports whether an API request is allowed in the current state.
func (c *Client) accepts(e evt) bool {
	_, ok := lookup(c.state, e)
	return ok
}
