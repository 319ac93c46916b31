// Package forwarder drives the poll, filter and forward cycle that turns event
// log records into syslog datagrams.
//
// # Cycle
//
// Each cycle runs to completion under a non-reentrant lock:
//
//	Start -> Fetching -> Parsing -> Processing -> Committed
//	            |           |
//	        NoSnapshot    BadData
//
// The watermark (the stream cursor up to which records were processed) only
// moves on Committed, and then to the end-of-range cursor reported by the
// Fetcher. Aborted cycles leave it where it was, so the same range is fetched
// again on the next trigger. Delivery is at least once up to the UDP send,
// which itself is best effort.
//
// # Filtering
//
// Exclude filters are evaluated per field in list order; the first match drops
// the record. Sender filters run before Text filters:
//
//	filters, _ := CompileFilters([]cfg.ExcludeFilter{
//		{Field: "Sender", Expression: "VariableManager"},
//		{Field: "Text", Expression: "/heartbeat/i"},
//	}, nil)
//	filters.Suppressed(FieldSender, "VariableManager") // true
//
// Expressions may be bare ("VariableManager") or delimited with optional
// modifiers ("/heartbeat/i"); both compile to the same matcher.
//
// # Thread Safety
//
// Forwarder methods are safe for concurrent use. Settings are swapped
// atomically by Apply and a running cycle keeps the settings it started with.
package forwarder
