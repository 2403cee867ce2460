// Package crawler holds the types and interfaces shared by the popup crawl
// pipeline: fetch requests and responses, extracted snapshots, merged records,
// run reports, and the retry policy used by the HTTP fetcher.
package crawler
