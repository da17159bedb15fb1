// Package rendezvous owns client matchmaking.
//
// Ownership boundary:
// - accept -> wrap -> enqueue -> acknowledge -> one pairing attempt
//
// - peer address exchange and closing of matched sessions
//
// - process runtime: listener bind, admin surface, heartbeat
//
// Per-connection state:
// - accepted -> enqueued -> paired
//
// - enqueued -> invalid when the client leaves before a partner arrives. The
// waiting pool prunes it silently on a later push or pairing attempt.
//
// Pairing is attempted exactly once per arrival. There is no periodic sweep,
// so a pairing made possible only by a later prune waits for the next arrival.
//
// Wire contract (one line each, newline terminated):
// - server -> client: WAIT right after enqueue
//
// - server -> client: the partner's address once paired, then close
package rendezvous
