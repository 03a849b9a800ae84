package engine

import (
	"context"

	"github.com/datallboy/manifetch/internal/domain"
)

// Observer receives progress snapshots from the controller's report loop.
// Each observer is fed from its own goroutine, so a slow one never holds up
// the others. Snapshots that arrive while Update is still busy are dropped in
// favour of the newest; the terminal snapshot of a run is delivered exactly
// once.
type Observer interface {
	Update(s domain.Snapshot)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(s domain.Snapshot)

func (f ObserverFunc) Update(s domain.Snapshot) { f(s) }

// RunRecorder persists finished runs. Implemented by the history store.
type RunRecorder interface {
	SaveRun(ctx context.Context, rec domain.RunRecord) error
}

// feed hands snapshots to one observer. It keeps at most one pending
// snapshot; push replaces it. Only one goroutine may push.
type feed struct {
	o    Observer
	ch   chan domain.Snapshot
	done chan struct{}
}

func newFeed(o Observer) *feed {
	f := &feed{o: o, ch: make(chan domain.Snapshot, 1), done: make(chan struct{})}
	go func() {
		defer close(f.done)
		for s := range f.ch {
			f.o.Update(s)
		}
	}()
	return f
}

func (f *feed) push(s domain.Snapshot) {
	select {
	case f.ch <- s:
		return
	default:
	}
	// Drop the stale pending snapshot
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
}

type feeds []*feed

func newFeeds(observers []Observer) feeds {
	fs := make(feeds, 0, len(observers))
	for _, o := range observers {
		fs = append(fs, newFeed(o))
	}
	return fs
}

func (fs feeds) push(s domain.Snapshot) {
	for _, f := range fs {
		f.push(s)
	}
}

// close waits until every observer has taken its last snapshot.
func (fs feeds) close() {
	for _, f := range fs {
		close(f.ch)
	}
	for _, f := range fs {
		<-f.done
	}
}
