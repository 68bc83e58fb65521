// Package workspace provisions per-connection working directories.
//
// Each websocket connection gets a fresh uuid-named directory under the
// configured workspace root. The directory ID doubles as the session's
// workspace binding in the store, so reconnects and uploads can find it
// again.
//
// Uploads land in an uploads/ subdirectory. Client-supplied paths are
// sanitized (absolute paths collapse to the base name, traversal is
// rejected) and name collisions get a numeric suffix before the extension.
package workspace
