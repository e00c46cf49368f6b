// Package daemon keeps a long-running sync engine in step with its snapshot
// file.
//
// Other processes, such as a second CLI invocation or a text editor, may
// rewrite the snapshot while the daemon is running. The daemon notices
// through fsnotify, waits for writes to settle, and adopts the file's items
// when they differ from what the engine holds. Adopted items are then pushed
// to the remote.
//
// # Architecture
//
//   - FileWatcher: watches the snapshot's directory and filters events down
//     to the snapshot and its SQLite companions
//   - Daemon: debounces file events, reloads the snapshot and optionally
//     refreshes from the remote on a timer
//
// # Usage
//
//	d, err := daemon.New(engine, persister, &daemon.Config{
//	    RefreshInterval:  time.Minute,
//	    DebounceInterval: 200 * time.Millisecond,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
package daemon
