// Package server implements the HTTP and WebSocket transport of the relay.
//
// The Hub tracks live connections and implements relay.Emitter, each Client
// runs its own read and write pumps, and the router exposes the websocket
// endpoint together with health, participant queries and static assets.
// Inbound frames are decoded here and handed to a Dispatcher; all membership
// and routing decisions live in package relay.
package server
