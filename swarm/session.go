// Package swarm holds the byte counters of one swarm membership.
package swarm

import (
	"erri120/goannounce/protocol"

	"go.uber.org/atomic"
)

// Session tracks what the local peer transferred in a swarm. Counters may be
// updated from any goroutine while an announce reads them.
type Session struct {
	infoHash   protocol.InfoHash
	uploaded   atomic.Int64
	downloaded atomic.Int64
	left       atomic.Int64
}

func New(infoHash protocol.InfoHash, left int64) *Session {
	session := &Session{infoHash: infoHash}
	session.left.Store(clamp(left))
	return session
}

func (session *Session) InfoHash() protocol.InfoHash {
	return session.infoHash
}

func (session *Session) Uploaded() int64 {
	return session.uploaded.Load()
}

func (session *Session) Downloaded() int64 {
	return session.downloaded.Load()
}

func (session *Session) Left() int64 {
	return session.left.Load()
}

// AddUploaded records n more uploaded bytes. Negative values are ignored.
func (session *Session) AddUploaded(n int64) {
	if n > 0 {
		session.uploaded.Add(n)
	}
}

// AddDownloaded records n more downloaded bytes and lowers the remaining
// byte count, never below zero.
func (session *Session) AddDownloaded(n int64) {
	if n <= 0 {
		return
	}

	session.downloaded.Add(n)
	for {
		left := session.left.Load()
		if session.left.CAS(left, clamp(left-n)) {
			return
		}
	}
}

func (session *Session) SetLeft(n int64) {
	session.left.Store(clamp(n))
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
