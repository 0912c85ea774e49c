package irbis

import (
	"context"
	"strings"

	"github.com/pior/irbis/protocol"
	"github.com/pior/irbis/record"
)

// Command methods share one contract: when the connection is not
// established, the server cannot be reached, or the server answers with a
// failing return code, they return the zero value and a nil error, and
// LastError explains why. A non-nil error means the arguments were rejected
// before any I/O.

func (c *Connection) database(name string) string {
	if name == "" {
		return c.Database
	}
	return name
}

// ReadRecord reads the current version of a record of the connection
// database. Logically deleted and locked records are returned as well.
func (c *Connection) ReadRecord(ctx context.Context, mfn int) (*record.MarcRecord, error) {
	return c.ReadRecordVersion(ctx, mfn, 0)
}

// ReadRecordVersion reads a given version of a record. Version zero means
// the current one.
func (c *Connection) ReadRecordVersion(ctx context.Context, mfn, version int) (*record.MarcRecord, error) {
	if mfn <= 0 {
		return nil, invalidArgument("mfn must be positive, got %d", mfn)
	}
	if version < 0 {
		return nil, invalidArgument("version must not be negative, got %d", version)
	}
	if !c.ready() {
		return nil, nil
	}

	database := c.Database
	query := c.newQuery(protocol.CmdReadRecord).AddAnsi(database).AddInt(mfn)
	if version > 0 {
		query.AddInt(version)
	}
	resp := c.execute(ctx, query, protocol.ReadRecordCodes...)
	if resp == nil {
		return nil, nil
	}

	code := resp.ReturnCode()
	if code < 0 {
		c.setLastError(&protocol.Error{Code: code})
	}

	lines := resp.RemainingUtfLines()
	if len(lines) < 2 {
		return nil, nil
	}
	rec := record.New(database)
	if err := record.DecodeInto(rec, lines); err != nil {
		c.logger.Error("irbis: malformed record", "database", database, "mfn", mfn, "error", err)
		c.setLastError(err)
		return nil, nil
	}
	return rec, nil
}

// WriteRecord stores rec in its database (the connection database when
// rec.Database is empty) and returns the new maximal MFN. A record with
// MFN zero is created. The server echoes the saved record, which replaces
// the content of rec. An echo that cannot be decoded leaves rec as it was,
// returns zero and is reported by LastError, although the server may have
// stored the record.
func (c *Connection) WriteRecord(ctx context.Context, rec *record.MarcRecord, lock, actualize bool) (int, error) {
	if rec == nil {
		return 0, invalidArgument("nil record")
	}
	if !c.ready() {
		return 0, nil
	}
	maxMfn, _ := c.writeRecord(ctx, rec, lock, actualize)
	return maxMfn, nil
}

func (c *Connection) writeRecord(ctx context.Context, rec *record.MarcRecord, lock, actualize bool) (int, bool) {
	database := c.database(rec.Database)
	query := c.newQuery(protocol.CmdUpdateRecord).
		AddAnsi(database).
		AddBool(lock).
		AddBool(actualize).
		AddUtf(record.Encode(rec))
	resp := c.execute(ctx, query)
	if resp == nil {
		return 0, false
	}

	maxMfn := resp.ReturnCode()
	lines := resp.RemainingUtfLines()
	if len(lines) >= 2 {
		// The echo is the MFN line followed by the rest of the record packed
		// into a single line.
		echo := append([]string{lines[0]}, record.IrbisToLines(lines[1])...)
		echo = append(echo, lines[2:]...)
		if err := record.DecodeInto(rec, echo); err != nil {
			c.logger.Error("irbis: malformed record echo", "database", database, "mfn", rec.Mfn, "error", err)
			c.setLastError(err)
			return 0, false
		}
	}
	rec.Database = database
	return maxMfn, true
}

// DeleteRecord marks a record logically deleted.
func (c *Connection) DeleteRecord(ctx context.Context, mfn int) (bool, error) {
	rec, err := c.ReadRecord(ctx, mfn)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.IsDeleted() {
		return true, nil
	}
	rec.Status |= record.StatusLogicallyDeleted
	_, ok := c.writeRecord(ctx, rec, false, true)
	return ok, nil
}

// FormatRecord formats a record of the connection database with a display
// format. A format starting with '@' names a format file on the server.
func (c *Connection) FormatRecord(ctx context.Context, format string, mfn int) (string, error) {
	if strings.TrimSpace(format) == "" {
		return "", invalidArgument("empty format")
	}
	if mfn <= 0 {
		return "", invalidArgument("mfn must be positive, got %d", mfn)
	}
	if !c.ready() {
		return "", nil
	}

	query := c.newQuery(protocol.CmdFormatRecord).
		AddAnsi(c.Database).
		AddFormat(format).
		AddInt(1).
		AddInt(mfn)
	resp := c.execute(ctx, query)
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.RemainingUtfText()), nil
}

// FormatVirtualRecord formats a record that is not stored on the server.
func (c *Connection) FormatVirtualRecord(ctx context.Context, format string, rec *record.MarcRecord) (string, error) {
	if strings.TrimSpace(format) == "" {
		return "", invalidArgument("empty format")
	}
	if rec == nil {
		return "", invalidArgument("nil record")
	}
	if !c.ready() {
		return "", nil
	}

	query := c.newQuery(protocol.CmdFormatRecord).
		AddAnsi(c.database(rec.Database)).
		AddFormat(format).
		AddInt(-2).
		AddUtf(record.Encode(rec))
	resp := c.execute(ctx, query)
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.RemainingUtfText()), nil
}

// ListFiles lists server files matching the specifications. File names may
// contain wildcards.
func (c *Connection) ListFiles(ctx context.Context, specs ...FileSpecification) ([]string, error) {
	if len(specs) == 0 {
		return nil, invalidArgument("no file specification")
	}
	if !c.ready() {
		return nil, nil
	}

	query := c.newQuery(protocol.CmdListFiles)
	for _, spec := range specs {
		query.AddAnsi(spec.String())
	}
	// This command has no return code.
	resp := c.Execute(ctx, query)
	if resp == nil {
		return nil, nil
	}

	var result []string
	for _, line := range resp.RemainingAnsiLines() {
		for _, name := range record.IrbisToLines(line) {
			if name != "" {
				result = append(result, name)
			}
		}
	}
	return result, nil
}

// ReadTextFile reads a text file from the server. Lines are separated by CRLF.
func (c *Connection) ReadTextFile(ctx context.Context, spec FileSpecification) (string, error) {
	if spec.Filename == "" {
		return "", invalidArgument("empty file name")
	}
	if !c.ready() {
		return "", nil
	}

	query := c.newQuery(protocol.CmdReadDocument).AddAnsi(spec.String())
	// This command has no return code.
	resp := c.Execute(ctx, query)
	if resp == nil {
		return "", nil
	}
	return record.IrbisToWindows(resp.ReadAnsi()), nil
}

// ListProcesses lists the server processes.
func (c *Connection) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	if !c.ready() {
		return nil, nil
	}

	resp := c.execute(ctx, c.newQuery(protocol.CmdGetProcessList))
	if resp == nil {
		return nil, nil
	}
	return parseProcesses(resp.RemainingAnsiLines()), nil
}

// ActualizeRecord updates the inverted file for one record. MFN zero
// actualizes the whole database.
func (c *Connection) ActualizeRecord(ctx context.Context, database string, mfn int) (bool, error) {
	if mfn < 0 {
		return false, invalidArgument("mfn must not be negative, got %d", mfn)
	}
	return c.simple(ctx, c.newQuery(protocol.CmdActualizeRecord).AddAnsi(c.database(database)).AddInt(mfn))
}

// TruncateDatabase removes every record of a database.
func (c *Connection) TruncateDatabase(ctx context.Context, database string) (bool, error) {
	return c.simple(ctx, c.newQuery(protocol.CmdEmptyDatabase).AddAnsi(c.database(database)))
}

// UnlockDatabase removes the database lock.
func (c *Connection) UnlockDatabase(ctx context.Context, database string) (bool, error) {
	return c.simple(ctx, c.newQuery(protocol.CmdUnlockDatabase).AddAnsi(c.database(database)))
}

// UnlockRecords unlocks records. Without MFNs there is nothing to do.
func (c *Connection) UnlockRecords(ctx context.Context, database string, mfns ...int) (bool, error) {
	for _, mfn := range mfns {
		if mfn <= 0 {
			return false, invalidArgument("mfn must be positive, got %d", mfn)
		}
	}
	if !c.ready() {
		return false, nil
	}
	if len(mfns) == 0 {
		return true, nil
	}

	query := c.newQuery(protocol.CmdUnlockRecords).AddAnsi(c.database(database))
	for _, mfn := range mfns {
		query.AddInt(mfn)
	}
	return c.execute(ctx, query) != nil, nil
}

// ReloadDictionary rebuilds the dictionary of a database.
func (c *Connection) ReloadDictionary(ctx context.Context, database string) (bool, error) {
	return c.simple(ctx, c.newQuery(protocol.CmdReloadDictionary).AddAnsi(c.database(database)))
}

// ReloadMasterFile rebuilds the master file of a database.
func (c *Connection) ReloadMasterFile(ctx context.Context, database string) (bool, error) {
	return c.simple(ctx, c.newQuery(protocol.CmdReloadMasterFile).AddAnsi(c.database(database)))
}

// NoOp keeps the session alive.
func (c *Connection) NoOp(ctx context.Context) (bool, error) {
	return c.simple(ctx, c.newQuery(protocol.CmdNop))
}

func (c *Connection) simple(ctx context.Context, query *protocol.Query) (bool, error) {
	if !c.ready() {
		return false, nil
	}
	return c.execute(ctx, query) != nil, nil
}

// GetMaxMfn returns the MFN the next new record of database will get.
func (c *Connection) GetMaxMfn(ctx context.Context, database string) (int, error) {
	if !c.ready() {
		return 0, nil
	}

	resp := c.execute(ctx, c.newQuery(protocol.CmdGetMaxMfn).AddAnsi(c.database(database)))
	if resp == nil {
		return 0, nil
	}
	return resp.ReturnCode(), nil
}

// GetServerVersion asks the server for its version and client counts.
func (c *Connection) GetServerVersion(ctx context.Context) (VersionInfo, error) {
	if !c.ready() {
		return VersionInfo{}, nil
	}

	resp := c.execute(ctx, c.newQuery(protocol.CmdGetServerVersion))
	if resp == nil {
		return VersionInfo{}, nil
	}
	return parseVersion(resp.RemainingAnsiLines()), nil
}
