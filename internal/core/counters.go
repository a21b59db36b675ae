package core

import "sync/atomic"

// Counters tracks relay traffic for one room.
type Counters struct {
	messagesSent     atomic.Int64
	bytesSent        atomic.Int64
	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
}

type CountersSnapshot struct {
	MessagesSent     int64 `json:"messagesSent"`
	BytesSent        int64 `json:"bytesSent"`
	MessagesReceived int64 `json:"messagesReceived"`
	BytesReceived    int64 `json:"bytesReceived"`
}

func (c *Counters) Sent(n int) {
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(n))
}

func (c *Counters) Received(n int) {
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(int64(n))
}

func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		MessagesSent:     c.messagesSent.Load(),
		BytesSent:        c.bytesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesReceived:    c.bytesReceived.Load(),
	}
}
