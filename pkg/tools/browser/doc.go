// Package browser registers the built-in page actions: navigation,
// element interaction, scrolling, content capture and tabs.
//
// Handlers drive the session found in the execution context through the
// Controller interface, which *browser.Session implements. Index
// parameters refer to the selector map of the snapshot the decision source
// last saw.
//
//	reg := actions.NewRegistry()
//	if err := browser.Register(reg, browser.Options{}); err != nil {
//	    return err
//	}
package browser
