// Package bridge connects browser tabs to urlbar over WebSocket.
//
// A page loads the thin client script served at <base>/client.js. The script
// opens <base>/ws, sends its location.hash once connected and again on every
// hashchange (or every 200ms where hashchange is unavailable):
//
//	{"type":"hash","hash":"#project=site&path=index.html"}
//
// The server may ask tabs to move by broadcasting:
//
//	{"type":"navigate","hash":"#path=other.js"}
//
// Each connection is a *Client, which implements urlbar.Source and
// urlbar.Notifier, so a urlbar.Watcher can be attached per tab:
//
//	b := bridge.New(bridge.Config{
//	    OnConnect: func(c *bridge.Client) func() {
//	        w, _ := urlbar.NewWatcher(c, urlbar.WithBus(events))
//	        w.Start(ctx)
//	        return w.Stop
//	    },
//	})
//	router.Mount("/_urlbar", b.Routes())
package bridge
