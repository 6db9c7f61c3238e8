// Package urlbar watches a browser location hash and publishes changes.
//
// The hash is where an in-browser editor keeps its navigation state
// ("#project=site&path=index.html"). URL turns such a string into a
// key/value view, and Watcher compares a Source's hash against the last
// value it saw, publishing an Event whenever the two differ.
//
// # Parsing
//
//	u := urlbar.Parse("#project=site&path=index.html")
//	u.Get("path")          // "index.html"
//	u.Set("path", "a.css") // in memory only, the browser is not updated
//
// # Watching
//
//	w, err := urlbar.NewWatcher(source,
//	    urlbar.WithInterval(200*time.Millisecond),
//	    urlbar.WithBus(b),
//	)
//	if err != nil {
//	    return err
//	}
//	w.OnChange(func(ev urlbar.Event) {
//	    fmt.Println(ev.Was, "->", ev.Now.Get("path"))
//	})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
//
// Sources that can announce changes themselves implement Notifier; the
// watcher then reacts to each notification instead of waiting for the next
// tick. The interval poll keeps running as a fallback.
package urlbar
