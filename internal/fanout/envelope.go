package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// Redis pub/sub channels shared by every node.
const (
	ChannelBroadcast = "fanout:broadcast"
	ChannelRoom      = "fanout:room"
	ChannelDirect    = "fanout:direct"
)

// wireMessage is what nodes exchange over pub/sub. Payload is the
// codec-sealed client frame.
type wireMessage struct {
	OriginNodeID string    `json:"originNodeId"`
	Timestamp    time.Time `json:"timestamp"`
	RoomID       string    `json:"roomId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	TargetNodeID string    `json:"targetNodeId,omitempty"`
	Payload      []byte    `json:"payload"`
}

// encodeFrame renders the client-facing JSON frame for ev.
func encodeFrame(ev domain.Event) ([]byte, error) {
	frame, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("fanout: encode %s frame: %w", ev.Type, err)
	}
	return frame, nil
}
