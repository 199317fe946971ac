package server

import "fmt"

// State is the state of a server connection.
type State uint8

const (
	NotConnected State = iota
	SessionIndicated
	ConnectIndicated
	// WaitAuth means a challenge was sent and the next Connect must answer
	// it.
	WaitAuth
	// AuthIndicated means the application was asked for the password.
	AuthIndicated
	Connected
	DisconnectIndicated
	SetPathIndicated
	ActionIndicated
	AbortIndicated
	PutIndicated
	GetIndicated
	PutTransaction
	GetTransaction
	PutSrm
	GetSrm
	PartialSent
	// WaitClose follows a Disconnect inside a reliable session. The peer
	// may still suspend or close the session before the transport goes.
	WaitClose
	numStates
)

// Sentinels an action may return instead of a real state.
const (
	stay      State = 0xFE
	candidate State = 0xFF
)

var stateNames = [numStates]string{
	NotConnected:        "not_connected",
	SessionIndicated:    "session_indicated",
	ConnectIndicated:    "connect_indicated",
	WaitAuth:            "wait_auth",
	AuthIndicated:       "auth_indicated",
	Connected:           "connected",
	DisconnectIndicated: "disconnect_indicated",
	SetPathIndicated:    "setpath_indicated",
	ActionIndicated:     "action_indicated",
	AbortIndicated:      "abort_indicated",
	PutIndicated:        "put_indicated",
	GetIndicated:        "get_indicated",
	PutTransaction:      "put_transaction",
	GetTransaction:      "get_transaction",
	PutSrm:              "put_srm",
	GetSrm:              "get_srm",
	PartialSent:         "partial_sent",
	WaitClose:           "wait_close",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type evt uint8

const (
	// Peer requests.
	evConnectReq evt = iota
	evSessionReq
	evDisconnectReq
	evPutReq
	evGetReq
	evSetPathReq
	evActionReq
	evAbortReq

	// Application responses.
	evConnectRsp
	evSessionRsp
	evDisconnectRsp
	evPutRsp
	evGetRsp
	evSetPathRsp
	evActionRsp
	evAbortRsp
	evPassword

	// Transport and timers.
	evPortClose
	evTxEmpty
	evFlowOn
	evProtoErr
	evTimeout
	// evSrmNext asks the application for the next streamed Get response.
	evSrmNext
	numEvents
)

var evtNames = [...]string{
	evConnectReq:    "connect_req",
	evSessionReq:    "session_req",
	evDisconnectReq: "disconnect_req",
	evPutReq:        "put_req",
	evGetReq:        "get_req",
	evSetPathReq:    "setpath_req",
	evActionReq:     "action_req",
	evAbortReq:      "abort_req",
	evConnectRsp:    "connect_rsp",
	evSessionRsp:    "session_rsp",
	evDisconnectRsp: "disconnect_rsp",
	evPutRsp:        "put_rsp",
	evGetRsp:        "get_rsp",
	evSetPathRsp:    "setpath_rsp",
	evActionRsp:     "action_rsp",
	evAbortRsp:      "abort_rsp",
	evPassword:      "password",
	evPortClose:     "port_close",
	evTxEmpty:       "tx_empty",
	evFlowOn:        "flow_on",
	evProtoErr:      "proto_err",
	evTimeout:       "timeout",
	evSrmNext:       "srm_next",
}

func (e evt) String() string {
	if int(e) < len(evtNames) {
		return evtNames[e]
	}
	return fmt.Sprintf("evt(%d)", uint8(e))
}

// request reports whether the event is a request from the peer. Requests
// the current state has no entry for are answered with ServiceUnavailable.
func (e evt) request() bool { return e <= evAbortReq }
