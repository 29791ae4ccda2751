// Relay is a chat backend in front of OpenRouter.
//
// It keeps a bounded pool of per-credential upstream clients and
// serves chat over plain HTTP and over a WebSocket multiplexer that
// runs concurrent transactions on one connection.
//
// Usage:
//
//	# Start the server with default configuration
//	relay run
//
//	# Start with a custom configuration file
//	relay run --config /etc/relay/config.yaml
//
//	# Register a user account
//	relay user add alice
//
//	# Show version information
//	relay version
package main

func main() {
	Execute()
}
