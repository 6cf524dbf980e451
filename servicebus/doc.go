/*
Package servicebus forwards CQRS commands over a message transport.

Dispatcher is the sending side: it resolves a destination for the command's type, wraps the
command in an envelope and hands it to a cbus.Transport, optionally awaiting a correlated
integer result code. Endpoint is the receiving side: it decodes envelopes, runs the bound
handler and produces the reply.
*/
package servicebus
