// Package sync turns inbound client frames into persisted mutations,
// acknowledgments and peer broadcasts.
//
// # Message handling
//
// Handler.Handle decodes one frame and dispatches on its type. Every mutation
// goes through store.Store, whose update and delete calls are a single
// compare-and-set on the entity version. The outcome of a frame is exactly one of:
//
//   - sync:ack to the sender, followed by a broadcast of the applied change to the
//     other occupants of the room
//   - sync:conflict to the sender with the authoritative state and version
//   - error to the sender
//
// Presence frames (cursor:move, selection:change) are relayed to the other
// occupants without persistence or acknowledgment.
//
// # Versions
//
// slide:update, slide:delete and presentation:update require base_version to
// match the stored version. slide:create and slide:reorder take no base version:
// creates are clamped into the current slide range and reorders must leave a
// dense 0..n-1 ordering or are rejected as a whole.
package sync
