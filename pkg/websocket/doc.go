// Package websocket is a client-only implementation of the WebSocket
// protocol (RFC 6455): opening handshake, frame codec, message
// fragmentation/defragmentation, and the closing handshake.
//
// It deliberately does not implement the server role, the
// permessage-deflate extension, automatic ping keepalive,
// multiplexing, or reconnection. A [Socket] is built with [NewSocket]
// and connected with [Socket.Connect]; every method on it blocks the
// calling goroutine and there is no background reader or writer, so
// callers control concurrency themselves.
package websocket
