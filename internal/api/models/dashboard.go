package models

// RefetchAccepted is the body of an accepted manual refetch.
type RefetchAccepted struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// Stream envelope types.
const (
	EnvelopeInitial = "INIT"
	EnvelopeUpdate  = "UPDATE"
)

// Stream control messages sent by clients.
const (
	StreamSubscribe   = "SUBSCRIBE"
	StreamUnsubscribe = "UNSUBSCRIBE"
)

// StreamControl narrows the keys a stream client receives. A client with no
// subscriptions receives every key.
type StreamControl struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}

// Envelope is one message of the dashboard change stream.
type Envelope struct {
	Type      string     `json:"type"`
	Key       string     `json:"key"`
	State     string     `json:"state"`
	Status    string     `json:"status"`
	Fetching  bool       `json:"fetching"`
	Stale     bool       `json:"stale"`
	Error     string     `json:"error,omitempty"`
	Data      any        `json:"data,omitempty"`
	UpdatedAt *Timestamp `json:"updated_at,omitempty"`
	Version   uint64     `json:"version"`
}
