package channel

// Envelope is the published message unit for create and update emissions.
// The field names are a wire contract with subscribers and must not change.
type Envelope struct {
	Event  string `json:"event" msgpack:"event"`   // "<singular>:<action>"
	Schema string `json:"schema" msgpack:"schema"` // model UID
	Data   any    `json:"data" msgpack:"data"`     // sanitized payload
}

// Deletes publish a bare identity payload on the subject instead of an
// Envelope: a map holding only "id" and "documentId". The row no longer
// exists, so that identity is all a subscriber ever sees.

// Channel delivers emission payloads to subscribers. Fire-and-forget from
// the caller's perspective; delivery failures are the transport's concern.
type Channel interface {
	// Publish sends a payload on the given subject.
	Publish(subject string, payload any) error
	// Close releases transport resources.
	Close() error
}

// Sink is one concrete destination (NATS, Kafka, mock).
type Sink interface {
	// Publish sends an encoded payload to the sink.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}

// Transformer encodes payloads into a sink-specific wire format.
type Transformer interface {
	// Encode converts a payload to bytes for publishing.
	Encode(payload any) ([]byte, error)
}

// Filter decides whether an emission subject is published to a sink.
type Filter interface {
	// Match returns true if the model should be published.
	Match(model string) bool
}
