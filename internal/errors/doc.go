// Package errors provides structured, actionable error messages for urlbar.
//
// Errors carry a registered code (e.g. "E101"), a category, a short message,
// an optional source location and a suggestion for fixing the problem:
//
//	err := errors.New("E101").
//	    WithLocation("urlbar.json", 4, 17).
//	    WithSuggestion("Check that urlbar.json is valid JSON")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E101: Invalid configuration file
//	//
//	//   urlbar.json:4:17
//	//
//	//       3 │   "watch": {
//	//   →   4 │     "interval": 200ms
//	//         │                 ^
//	//       5 │   }
//	//
//	//   Hint: Check that urlbar.json is valid JSON
//
// # Error Codes
//
//   - E1xx: configuration
//   - E2xx: watcher lifecycle
//   - E3xx: browser bridge
//   - E4xx: command line
package errors
