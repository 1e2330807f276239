// Package game is the session server's core: room membership, map
// transitions, movement legality, mob authority and the message dispatcher
// that routes client messages to the reactor engine and drop ledger.
//
// Every Dispatcher method runs on the Loop goroutine and returns the events
// it produced as Envelopes; the transport delivers them afterwards.
package game

import "github.com/libevm/shlop-app-sub002/internal/protocol"

// Envelope addresses one outbound event to a set of connections. Recipients
// are resolved when the envelope is built, after the triggering mutation.
type Envelope struct {
	To  []string
	Msg protocol.Outbound

	// Close, when set, closes every recipient after Msg (if any) is sent.
	Close protocol.CloseCode
}

func unicast(connID string, msg protocol.Outbound) Envelope {
	return Envelope{To: []string{connID}, Msg: msg}
}

func closeConn(connID string, code protocol.CloseCode) Envelope {
	return Envelope{To: []string{connID}, Close: code}
}

func addressed(to []string, msg protocol.Outbound) []Envelope {
	if len(to) == 0 {
		return nil
	}
	return []Envelope{{To: to, Msg: msg}}
}
