package client

import "fmt"

// State is the state of a client connection.
type State uint8

const (
	NotConnected State = iota
	SessionReqSent
	ConnectReqSent
	Unauthorized
	Connected
	DisconnectReqSent
	SetPathReqSent
	ActionReqSent
	AbortReqSent
	PutReqSent
	GetReqSent
	PutTransaction
	GetTransaction
	PutSrm
	GetSrm
	// PartialSent means the transport took only part of the last packet.
	// The client returns to the intended state once the rest drains.
	PartialSent

	numStates
)

var stateNames = [numStates]string{
	NotConnected:      "not_connected",
	SessionReqSent:    "session_req_sent",
	ConnectReqSent:    "connect_req_sent",
	Unauthorized:      "unauthorized",
	Connected:         "connected",
	DisconnectReqSent: "disconnect_req_sent",
	SetPathReqSent:    "setpath_req_sent",
	ActionReqSent:     "action_req_sent",
	AbortReqSent:      "abort_req_sent",
	PutReqSent:        "put_req_sent",
	GetReqSent:        "get_req_sent",
	PutTransaction:    "put_transaction",
	GetTransaction:    "get_transaction",
	PutSrm:            "put_srm",
	GetSrm:            "get_srm",
	PartialSent:       "partial_sent",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Sentinels used in dispatch tables. They are never stored as a state.
const (
	// stay keeps the current state.
	stay State = 0xFE
	// candidate tells the dispatcher to use the table's next state.
	candidate State = 0xFF
)

// evt is an input of the state machine.
type evt uint8

const (
	evConnectReq evt = iota
	evSessionReq
	evDisconnectReq
	evPutReq
	evGetReq
	evSetPathReq
	evActionReq
	evAbortReq
	evAuthRsp
	evOKCfm
	evContCfm
	evFailCfm
	evPortClose
	evTxEmpty
	evFlowOn
	// evState reports that the reliable session left the connection, as
	// after a suspend confirmation.
	evState
	// evProtoErr is a response that violates the protocol.
	evProtoErr
	evTimeout

	numEvents
)

var evtNames = [numEvents]string{
	evConnectReq:    "connect_req",
	evSessionReq:    "session_req",
	evDisconnectReq: "disconnect_req",
	evPutReq:        "put_req",
	evGetReq:        "get_req",
	evSetPathReq:    "setpath_req",
	evActionReq:     "action_req",
	evAbortReq:      "abort_req",
	evAuthRsp:       "auth_rsp",
	evOKCfm:         "ok_cfm",
	evContCfm:       "cont_cfm",
	evFailCfm:       "fail_cfm",
	evPortClose:     "port_close",
	evTxEmpty:       "tx_empty",
	evFlowOn:        "flow_on",
	evState:         "state",
	evProtoErr:      "proto_err",
	evTimeout:       "timeout",
}

func (e evt) String() string {
	if e < numEvents {
		return evtNames[e]
	}
	return fmt.Sprintf("evt(%d)", uint8(e))
}
