// Package session owns one connected client's logical handle.
//
// Ownership boundary:
// - serialized line writes to the client
//
// - the monotonic validity flag read by the waiting pool
//
// - departure detection through a background reader
//
// A Session is created and closed by the rendezvous coordinator. The waiting
// pool only reads IsValid and never closes a session.
package session
