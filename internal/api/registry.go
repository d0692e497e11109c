package api

import "time"

// ReplySpec tells the session what to do after writing an outbound frame:
// which inbound kind to expect, which read timeout to hold while waiting
// (zero keeps the transport's ambient timeout), and how the reply bytes
// arrive. A FixedLen reply is read in one exact-size read; a drain reply is
// accumulated byte by byte until the transport goes quiet.
type ReplySpec struct {
	Kind     FrameKind
	Timeout  time.Duration
	FixedLen int
}

// ReplyFor maps an outbound frame kind to its reply policy. Unknown kinds
// expect nothing and produce a Null reply.
func ReplyFor(kind FrameKind) ReplySpec {
	switch kind {
	case KindTransmitRequest:
		return ReplySpec{Kind: KindTransmitStatus, FixedLen: TransmitStatusLen}
	case KindAtCommand:
		return ReplySpec{Kind: KindAtCommandResponse, Timeout: 100 * time.Millisecond}
	case KindRemoteAtCommand:
		return ReplySpec{Kind: KindRemoteAtCommandResponse, Timeout: 3 * time.Second}
	default:
		return ReplySpec{Kind: KindNull}
	}
}
