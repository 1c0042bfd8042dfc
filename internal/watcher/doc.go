// Package watcher keeps a corpus in step with its directory while the server
// runs.
//
// File events come from fsnotify, or from a polling scan where fsnotify
// cannot be initialized. They are debounced so editors and checkouts that
// touch a file many times in a burst cause one re-ingest. A Syncer applies
// each batch to an ingest pipeline: changed files are re-ingested alone and
// removed paths have their entries dropped.
//
//	w, err := watcher.New(watcher.Options{Ignore: reader.Excluded})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, root)
//	return watcher.NewSyncer(ingester, root, corpusID, logger).Run(ctx, w.Events())
package watcher
