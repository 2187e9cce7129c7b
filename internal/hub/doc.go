// Package hub owns the live WebSocket connections of one server process.
//
// A Hub admits upgraded sockets, runs an inbound read loop and an outbound
// send loop per connection, fans messages out with Broadcast, and drives a
// three-phase shutdown: seal admission, close every connection concurrently
// with a bounded close handshake, then cancel and dispose what is left.
package hub
