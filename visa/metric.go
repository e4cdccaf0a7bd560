package visa

import "sync/atomic"

// ConnMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnMetrics struct {
	// CommandSendCount indicates the number of commands sent.
	CommandSendCount atomic.Uint64
	// ReplyRecvCount indicates the number of replies received.
	ReplyRecvCount atomic.Uint64
	// RetrySendCount indicates the number of blind command resends.
	RetrySendCount atomic.Uint64
	// FaultCount indicates the number of transport faults observed.
	FaultCount atomic.Uint64

	// ConnRetryGauge indicates the number of connect attempts beyond the
	// first for the most recent open.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnMetrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *ConnMetrics) incReplyRecvCount() {
	m.ReplyRecvCount.Add(1)
}

func (m *ConnMetrics) incRetrySendCount() {
	m.RetrySendCount.Add(1)
}

func (m *ConnMetrics) incFaultCount() {
	m.FaultCount.Add(1)
}

func (m *ConnMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}
