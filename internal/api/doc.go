// Package api exposes the analysis engine over HTTP.
//
// Every endpoint speaks JSON. Failures are reported as {"error": "..."}
// with a status derived from the engine's sentinel errors: invalid input is
// 400, a missing model is 503 and a failed scorer is 502. The page fetch
// endpoint mirrors the fetch failure instead (408 timeout, 503 connection,
// the upstream status for HTTP errors).
package api
