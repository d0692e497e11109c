package events

const (
	TopicConnStatus       = "conn.status"
	TopicRawFrameIn       = "raw.frame.in"
	TopicRawFrameOut      = "raw.frame.out"
	TopicIdentityResolved = "identity.resolved"
	TopicPeerDiscovered   = "peer.discovered"
	TopicDiscoveryDone    = "discovery.done"
)
