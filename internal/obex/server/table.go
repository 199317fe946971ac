package server

import "github.com/marmos91/obexd/internal/obex/packet"

type action func(s *Session, p *packet.Packet, cand State) State

type entry struct {
	act  action
	next State
}

type table map[evt]entry

var (
	stateTables [numStates]table
	sharedTable table
)

func init() {
	var (
		abortInd = entry{(*Session).actAbortInd, AbortIndicated}
		disc     = entry{(*Session).actDisconnectInd, DisconnectIndicated}
	)

	stateTables = [numStates]table{
		NotConnected: {
			evConnectReq: {(*Session).actConnectInd, ConnectIndicated},
			evSessionReq: {(*Session).actSessionInd, SessionIndicated},
		},
		SessionIndicated: {
			evSessionRsp: {(*Session).actSessionRsp, candidate},
		},
		ConnectIndicated: {
			evConnectRsp: {(*Session).actConnectRsp, candidate},
		},
		WaitAuth: {
			evConnectReq: {(*Session).actConnectInd, ConnectIndicated},
		},
		AuthIndicated: {
			evPassword: {(*Session).actPassword, ConnectIndicated},
		},
		Connected: {
			evPutReq:        {(*Session).actPutInd, PutIndicated},
			evGetReq:        {(*Session).actGetInd, GetIndicated},
			evSetPathReq:    {(*Session).actSetPathInd, SetPathIndicated},
			evActionReq:     {(*Session).actActionInd, ActionIndicated},
			evSessionReq:    {(*Session).actSessionInd, SessionIndicated},
			evDisconnectReq: disc,
		},
		DisconnectIndicated: {
			evDisconnectRsp: {(*Session).actDisconnectRsp, candidate},
		},
		SetPathIndicated: {
			evSetPathRsp: {(*Session).actSimpleRsp, Connected},
		},
		ActionIndicated: {
			evActionRsp: {(*Session).actSimpleRsp, Connected},
		},
		AbortIndicated: {
			evAbortRsp: {(*Session).actAbortRsp, Connected},
		},
		PutIndicated: {
			evPutRsp:   {(*Session).actPutRsp, candidate},
			evPutReq:   {(*Session).actPutBacklog, stay},
			evAbortReq: abortInd,
		},
		GetIndicated: {
			evGetRsp:   {(*Session).actGetRsp, candidate},
			evGetReq:   {(*Session).actSrmGetCtl, stay},
			evAbortReq: abortInd,
		},
		PutTransaction: {
			evPutReq:        {(*Session).actPutInd, PutIndicated},
			evAbortReq:      abortInd,
			evDisconnectReq: disc,
		},
		GetTransaction: {
			evGetReq:        {(*Session).actGetInd, GetIndicated},
			evAbortReq:      abortInd,
			evDisconnectReq: disc,
		},
		PutSrm: {
			evPutReq:        {(*Session).actPutInd, PutIndicated},
			evAbortReq:      abortInd,
			evDisconnectReq: disc,
		},
		GetSrm: {
			evGetReq:        {(*Session).actSrmGetCtl, stay},
			evSrmNext:       {(*Session).actSrmGetNext, GetIndicated},
			evTxEmpty:       {(*Session).actSrmGetNext, GetIndicated},
			evFlowOn:        {(*Session).actSrmGetNext, GetIndicated},
			evAbortReq:      abortInd,
			evDisconnectReq: disc,
		},
		PartialSent: {
			evTxEmpty: {(*Session).actResume, stay},
			evFlowOn:  {(*Session).actResume, stay},
		},
		WaitClose: {
			evConnectReq: {(*Session).actConnectInd, ConnectIndicated},
			evSessionReq: {(*Session).actSessionInd, SessionIndicated},
			evTimeout:    {(*Session).actWaitCloseExpired, NotConnected},
		},
	}

	sharedTable = table{
		evPortClose: {(*Session).actPortClose, NotConnected},
		evProtoErr:  {(*Session).actProtoErr, NotConnected},
	}
}

// lookup finds the entry for an event in the state's table, then in the
// shared table.
func lookup(s State, e evt) (entry, bool) {
	if s >= numStates {
		return entry{}, false
	}
	if ent, ok := stateTables[s][e]; ok {
		return ent, ent.act != nil
	}
	ent, ok := sharedTable[e]
	return ent, ok
}

func (s *Session) accepts(e evt) bool {
	_, ok := lookup(s.state, e)
	return ok
}
