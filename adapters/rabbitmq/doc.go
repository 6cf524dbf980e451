/*
Package rabbitmq provides a RabbitMQ transport for the command dispatcher.
Commands go to one queue per destination on the default exchange. Replies use direct reply-to
unless a reply queue is configured. It includes an auto-reconnect publisher and supports optional
header propagation via a bus.HeaderPropagator.
*/
package rabbitmq
