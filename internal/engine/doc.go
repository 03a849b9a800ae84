// Package engine downloads the files named by a manifest with a bounded pool
// of workers and verifies each one against its expected digest.
//
// A Controller owns one run at a time. Pause, Resume and Stop act on the
// run's Signals, which every transfer consults between chunks: a paused run
// holds its open connections without writing, and a stopped run abandons
// in-flight files where they are. Snapshots of progress are available on
// demand and are pushed to registered Observers while the run is live.
package engine
