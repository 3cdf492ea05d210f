// Package report renders analyses and batch results for people and tools.
//
// Every format implements Writer: SimpleWriter for terminals, JSONWriter
// for tool integration, MarkdownWriter for sharing, and XLSXWriter for
// spreadsheets of batch results. MultiWriter fans one result out to
// several writers.
package report
