// Package static holds assets served verbatim by the API.
package static

import _ "embed"

// TrackerJS is the browser tracker served at /tracker.js.
//
//go:embed tracker.js
var TrackerJS []byte
