// Package syslog builds and sends RFC 5424 messages.
//
// It holds the three leaf components of the forwarding pipeline:
//
//   - Severity and facility lookup tables (DecodeSeverity, FacilityTable)
//   - The message formatter (Message.String)
//   - The UDP transmitter (UDPTransmitter)
//
// Facility codes are stored pre-multiplied by 8, so a message priority is the
// plain sum of facility and severity:
//
//	pri := Priority(FacilityUser, SeverityInfo) // 8 + 6 = 14
//
// The transmitter opens one datagram socket per message and closes it before
// returning. Delivery is best effort; there is no retry.
package syslog
