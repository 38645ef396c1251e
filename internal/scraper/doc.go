// Package scraper implements the crawl engine for the AutoRia used-car
// catalog: pagination planning, bounded-concurrency fetch/extract/persist
// pipeline, session rotation, and run orchestration.
package scraper
