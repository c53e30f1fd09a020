// Package reconcile implements the conflict-resolution core of the sync
// engine: planning pushes of local changes to the remote store and merging
// remote state back into the local snapshot.
//
// Both operations work over an immutable snapshot and return a new one;
// neither touches persistence. The scheduler owns when they run and what
// happens to their results.
//
// The conflict law is last-write-wins by server timestamp with one
// override: a local row that has unsynced edits is never overwritten by
// remote data, no matter how much newer the remote row is. Unsynced edits
// win until they are themselves pushed.
package reconcile
