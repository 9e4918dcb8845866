// Package transport defines the session interfaces a peer uses to reach its
// opponent and provides the implementations selectable by config kind
// (mem, tcp, udp, quic, ws, winpipe), plus a manager that settles duplicate
// sessions between the two peers onto one canonical session.
//
// Key concepts:
//   - Transport: dials/listens for Sessions of a specific Kind
//   - Session: a bidirectional connection to the remote peer
//   - Stream: a Send/Recv channel of protocol frames
//   - Manager: deduplicates concurrent inbound/outbound links so both peers
//     agree on the same canonical session
package transport
