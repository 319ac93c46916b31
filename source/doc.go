// Package source provides the snapshot fetchers the forwarder polls.
//
// Every fetcher hands the forwarder a JSON array of records in the shared
// wire form
//
//	{"SenderID":12345,"TimeStamp":1001,"Message":10205,"Data":["Sender","Text",1700000100]}
//
// together with the cursor the next fetch should start from.
//
// The symcon fetcher uses the IP-Symcon message counter as its cursor. The
// stream fetchers (journal, nats, kafka) use the next position to read, with
// positions starting at 1, so a zero cursor always means "no watermark".
//
// Fetchers register themselves by source type; New picks one from the
// configuration:
//
//	src, err := source.New(cfg.Config)
package source
