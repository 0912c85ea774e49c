// Package record implements the bibliographic record model used by the IRBIS64
// server and its text codec.
//
// A record travels as lines:
//
//	MFN#STATUS
//	0#VERSION
//	TAG#VALUE^aSUB^bSUB
//	...
//
// In the compact form the lines are joined with IrbisDelimiter (0x1F 0x1E);
// IrbisToWindows and WindowsToIrbis convert between that and CRLF text.
//
// The format reserves '#', '^' and the delimiter bytes and has no escaping:
// values containing them do not survive a round trip.
package record
