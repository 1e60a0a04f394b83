// Package relay implements the room-membership and message-broadcast core of
// the room relay server.
//
// The package is organised around three collaborators:
//
//   - Registry, the single source of truth for connected participants and the
//     room each one currently occupies;
//   - Router, which derives recipient sets from the Registry on demand;
//   - Handler, the per-connection lifecycle state machine that mutates the
//     Registry and emits notifications through an Emitter.
//
// Nothing in this package performs I/O. Delivery is delegated to an Emitter
// implementation supplied by the transport layer.
package relay
