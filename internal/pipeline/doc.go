// Package pipeline runs post-analysis steps over a completed analysis and
// fans batches of URLs out to the analysis engine.
//
// A Pipeline holds an ordered list of Steps. Each step receives the
// FullAnalysis produced by the engine and may annotate it: attach a TLSH
// fingerprint, add WHOIS based explanations, persist it to history or link
// it to near-duplicate pages seen before.
//
// BatchProcessor analyzes up to MaxBatchSize URLs with bounded concurrency
// using errgroup, consults the result cache before analyzing, and collapses
// simultaneous analyses of the same URL with singleflight.
package pipeline
