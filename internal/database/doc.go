// Package database provides SQLite-based storage of completed analyses.
//
// HistoryDB keeps every full analysis as JSON next to the columns needed
// to list and search it: URL, host, ensemble label and probability, and
// the TLSH fingerprint used to find near-duplicate pages.
//
// The database is a single file opened through modernc.org/sqlite, a
// CGO-free driver, in WAL mode with one open connection.
package database
