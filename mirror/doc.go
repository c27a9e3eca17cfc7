// Package mirror keeps a local, append-only copy of remote chat history in
// sync, one channel at a time.
//
// Each channel gets a Channel worker created lazily by the Registry on the
// first observed event. The worker buffers incoming live events, performs a
// one-time initialization that backfills the gap between the newest stored
// message and the live stream, then flushes buffered events to the store in
// arrival order. Initialization runs exactly once per worker; flushes are
// serialized so no two ever run concurrently for the same channel.
//
// Ownership: the first accepted sender becomes the channel's assignee and
// stays so for the worker's lifetime. Events from any other bot connection
// are dropped silently, which keeps a channel single-writer even when a
// duplicate bot instance is connected.
//
// Failure is terminal. Any store or fetch error during initialization or
// flush moves the channel to the failed state, drops its buffer, and
// discards all later events until the process restarts. One channel's
// failure never affects another.
//
// Edits and deletions do not pass through workers at all: the Registry
// applies them directly to the store so they are never lost to a broken
// live sync.
package mirror
