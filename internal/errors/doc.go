// Package errors provides structured, actionable errors for the herald
// command and service.
//
// Each error carries a code (e.g. "H101") that maps to a category, a short
// message, a detail paragraph and an optional hint. Config errors can point
// at a line of herald.yaml.
//
//	err := errors.New("H101").
//	    WithLocation("herald.yaml", 4, 0).
//	    WithSuggestion("addr must look like host:port")
//
//	errors.PrintError(err)
//	// ERROR H101: Invalid configuration value
//	//
//	//   herald.yaml:4
//	//
//	//        3 │ server:
//	//   →    4 │   addr: nine
//	//        5 │ journal:
//	//
//	//   Hint: addr must look like host:port
package errors
