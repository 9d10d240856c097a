// Package relay accepts WebSocket clients and connects each one to the broadcast channel.
//
// Every connection runs three goroutines under one errgroup: a read loop that owns
// ReadMessage, a receive loop that drains the connection's subscription, and a write
// loop that owns every write (messages, pings and the close frame). Whichever ends
// first cancels the others and closes the socket.
package relay
