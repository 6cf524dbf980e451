package bus

import "time"

// Routable lets a command pick its own destination instead of consulting the routing table.
type Routable interface {
	Destination() Destination
}

// ReplyTimeoutable allows a command to override the dispatcher's reply timeout.
type ReplyTimeoutable interface {
	ReplyTimeout() time.Duration
}

// ResultCoder is implemented by handler errors that carry a specific reply code.
type ResultCoder interface {
	ResultCode() int
}
