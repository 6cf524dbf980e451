/*
Package servicelocator provides a service-locator facade over go.uber.org/dig.

The Registry keeps its own registration log and realizes a dig container from it lazily.
Registrations made after the container was realized are applied on the next Resolve or Inject:
appended to the live container when possible, otherwise by rebuilding it from the log.
*/
package servicelocator
