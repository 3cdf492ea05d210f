// Package main provides the entry point for the PhishGuard CLI.
//
// PhishGuard scores URLs and web pages for phishing with a URL model, an
// HTML model and a DOM graph model, then combines them into one verdict.
//
// Usage:
//
//	phishguard serve
//	phishguard analyze <url>...
//	phishguard batch --list <file>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
