package metrics

// OBEXMetrics provides observability for OBEX clients and servers.
//
// Pass nil to disable collection; the helpers below accept nil.
type OBEXMetrics interface {
	// RecordRequest counts a request sent (client) or received (server).
	RecordRequest(role, opcode string)

	// RecordResponse counts a response by the opcode it answers and its
	// status.
	RecordResponse(role, opcode, status string)

	// RecordBodyBytes counts object bytes. Direction is "tx" or "rx".
	RecordBodyBytes(role, direction string, n int)

	// RecordSRMEngaged counts exchanges that switched to single response
	// mode.
	RecordSRMEngaged(role string)

	// RecordPartialSend counts packets the transport accepted only in part.
	RecordPartialSend(role string)

	// RecordSessionOp counts reliable session operations by outcome.
	RecordSessionOp(role, op, status string)

	// RecordAuth counts authentication attempts by outcome.
	RecordAuth(role string, ok bool)

	// SetSuspendedSessions reports the size of the suspended table.
	SetSuspendedSessions(n int)

	// SetConnections reports the number of live connections of a role.
	SetConnections(role string, n int)
}

var newOBEXMetrics func() OBEXMetrics

// RegisterOBEXMetricsConstructor is called by the Prometheus package at
// init time.
func RegisterOBEXMetricsConstructor(constructor func() OBEXMetrics) {
	newOBEXMetrics = constructor
}

// NewOBEXMetrics returns the registered implementation, or nil when
// metrics are disabled or no implementation is linked in.
func NewOBEXMetrics() OBEXMetrics {
	if !IsEnabled() || newOBEXMetrics == nil {
		return nil
	}
	return newOBEXMetrics()
}

func RecordRequest(m OBEXMetrics, role, opcode string) {
	if m != nil {
		m.RecordRequest(role, opcode)
	}
}

func RecordResponse(m OBEXMetrics, role, opcode, status string) {
	if m != nil {
		m.RecordResponse(role, opcode, status)
	}
}

func RecordBodyBytes(m OBEXMetrics, role, direction string, n int) {
	if m != nil && n > 0 {
		m.RecordBodyBytes(role, direction, n)
	}
}

func RecordSRMEngaged(m OBEXMetrics, role string) {
	if m != nil {
		m.RecordSRMEngaged(role)
	}
}

func RecordPartialSend(m OBEXMetrics, role string) {
	if m != nil {
		m.RecordPartialSend(role)
	}
}

func RecordSessionOp(m OBEXMetrics, role, op, status string) {
	if m != nil {
		m.RecordSessionOp(role, op, status)
	}
}

func RecordAuth(m OBEXMetrics, role string, ok bool) {
	if m != nil {
		m.RecordAuth(role, ok)
	}
}

func SetSuspendedSessions(m OBEXMetrics, n int) {
	if m != nil {
		m.SetSuspendedSessions(n)
	}
}

func SetConnections(m OBEXMetrics, role string, n int) {
	if m != nil {
		m.SetConnections(role, n)
	}
}
