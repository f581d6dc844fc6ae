// Package sessions owns per-actor conversation state: the FIFO lock that
// serializes an actor's turns, the intents carried over between turns, and a
// bounded tail of history.
//
// Actor ids built by channels follow one format:
//
//	{channel}:{peerId}
//
// Examples:
//
//	telegram:386246614
//	discord:1187766253442101338
//	http:patient-42
package sessions

import (
	"fmt"
	"strings"
)

// BuildActorID builds the canonical actor id for a channel peer.
func BuildActorID(channel, peerID string) string {
	return fmt.Sprintf("%s:%s", channel, peerID)
}

// ParseActorID splits an actor id into channel and peer. Ids without a
// channel prefix return an empty channel.
func ParseActorID(id string) (channel, peerID string) {
	if i := strings.IndexByte(id, ':'); i > 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}
