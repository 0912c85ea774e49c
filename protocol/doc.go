// Package protocol implements the IRBIS64 client/server wire format.
//
// A request is a sequence of LF-terminated lines preceded by a line holding
// the byte length of the rest:
//
//	<length>
//	<command>
//	<workstation>
//	<command>
//	<client id>
//	<query id>
//	<password>
//	<username>
//	<empty>
//	<empty>
//	<empty>
//	<argument lines...>
//
// String arguments are either cp1251 ("ANSI") or UTF-8; the command decides
// which. Query builds requests, ParseQuery decodes them on the server side.
//
// A response carries ten header lines (command, client id, query id, answer
// size, server version, interval and four reserved lines) followed by the
// body, usually starting with a signed return code. Response reads the body
// lazily, line by line, in the order the command dictates:
//
//	resp, err := protocol.ParseResponse(raw)
//	if err != nil {
//	    return err
//	}
//	if !resp.CheckReturnCode(protocol.ReadRecordCodes...) {
//	    return &protocol.Error{Code: resp.ReturnCode()}
//	}
//	lines := resp.RemainingUtfLines()
//
// Negative return codes are errors except for the benign codes a command
// lists (ReadRecordCodes, ReadTermsCodes). Describe maps codes to text.
package protocol
