package bus

// Command is a marker interface for commands (intent to change state).
// A command is routed to exactly one destination.
type Command interface{}

// Destination is the transport-level address a command is routed to.
// Host is optional and mirrors a machine name in queue@machine addressing.
type Destination struct {
	Endpoint string
	Host     string
}

// IsZero reports whether no endpoint is set.
func (d Destination) IsZero() bool { return d.Endpoint == "" }

// String renders endpoint@host, or just the endpoint when no host is set.
func (d Destination) String() string {
	if d.Host == "" {
		return d.Endpoint
	}

	return d.Endpoint + "@" + d.Host
}

// Envelope wraps a single command addressed to a destination.
// It is created per dispatch call and discarded once sent (or once its reply arrives).
type Envelope struct {
	ID          string
	Type        string
	Destination Destination
	Command     Command
	Headers     map[string]string
	WantReply   bool
}

// Reply is the correlated answer to an envelope that requested one.
type Reply struct {
	CorrelationID string
	Code          int
	Error         string
}
