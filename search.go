package irbis

import (
	"context"
	"strings"

	"github.com/pior/irbis/protocol"
	"github.com/pior/irbis/record"
)

// allFormat renders a whole record in compact form.
const allFormat = "&uf('+0')"

// Search returns the MFNs of the connection database records matching
// expression, at most protocol.MaxPostings of them.
func (c *Connection) Search(ctx context.Context, expression string) ([]int, error) {
	found, err := c.SearchEx(ctx, SearchParameters{Expression: expression})
	if err != nil || found == nil {
		return nil, err
	}
	mfns := make([]int, len(found))
	for i, line := range found {
		mfns[i] = line.Mfn
	}
	return mfns, nil
}

// SearchEx runs a search described by params.
func (c *Connection) SearchEx(ctx context.Context, params SearchParameters) ([]FoundLine, error) {
	if err := validateSearch(params); err != nil {
		return nil, err
	}
	if !c.ready() {
		return nil, nil
	}

	_, found := c.search(ctx, params)
	return found, nil
}

func validateSearch(params SearchParameters) error {
	if strings.TrimSpace(params.Expression) == "" && strings.TrimSpace(params.Sequential) == "" {
		return invalidArgument("empty search expression")
	}
	if params.Number < 0 || params.FirstRecord < 0 {
		return invalidArgument("negative search window %d/%d", params.FirstRecord, params.Number)
	}
	if params.MinMfn < 0 || params.MaxMfn < 0 {
		return invalidArgument("negative MFN bounds %d..%d", params.MinMfn, params.MaxMfn)
	}
	return nil
}

// search returns the number of matching records and the lines sent back.
func (c *Connection) search(ctx context.Context, params SearchParameters) (int, []FoundLine) {
	first := params.FirstRecord
	if first == 0 {
		first = 1
	}

	query := c.newQuery(protocol.CmdSearch).
		AddAnsi(c.database(params.Database)).
		AddUtf(params.Expression).
		AddInt(params.Number).
		AddInt(first).
		AddFormat(params.Format).
		AddInt(params.MinMfn).
		AddInt(params.MaxMfn).
		AddAnsi(params.Sequential)

	resp := c.execute(ctx, query)
	if resp == nil {
		return 0, nil
	}
	count := resp.ReadInt()
	return count, parseFound(resp.RemainingUtfLines())
}

// SearchCount returns the number of records matching expression without
// transferring them.
func (c *Connection) SearchCount(ctx context.Context, expression string) (int, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, invalidArgument("empty search expression")
	}
	if !c.ready() {
		return 0, nil
	}

	query := c.newQuery(protocol.CmdSearch).
		AddAnsi(c.Database).
		AddUtf(expression).
		AddInt(0).
		AddInt(0)
	resp := c.execute(ctx, query)
	if resp == nil {
		return 0, nil
	}
	return resp.ReadInt(), nil
}

// SearchAll returns every MFN matching expression, requesting successive
// windows when the result exceeds what the server sends at once.
func (c *Connection) SearchAll(ctx context.Context, expression string) ([]int, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, invalidArgument("empty search expression")
	}
	if !c.ready() {
		return nil, nil
	}

	var result []int
	expected := 0
	for first := 1; ; {
		count, found := c.search(ctx, SearchParameters{Expression: expression, FirstRecord: first})
		if found == nil {
			return nil, nil
		}
		if first == 1 {
			expected = count
			result = make([]int, 0, expected)
		}
		if expected == 0 || len(found) == 0 {
			return result, nil
		}

		for _, line := range found {
			result = append(result, line.Mfn)
		}
		first += len(found)
		if len(result) >= expected {
			return result, nil
		}
	}
}

// SearchRead searches and reads the matching records in one round trip.
// A limit of zero reads as many as the server sends.
func (c *Connection) SearchRead(ctx context.Context, expression string, limit int) ([]*record.MarcRecord, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, invalidArgument("empty search expression")
	}
	if limit < 0 {
		return nil, invalidArgument("negative limit %d", limit)
	}
	if !c.ready() {
		return nil, nil
	}

	database := c.Database
	count, found := c.search(ctx, SearchParameters{
		Expression: expression,
		Number:     limit,
		Format:     allFormat,
	})
	if found == nil {
		return nil, nil
	}

	records := make([]*record.MarcRecord, 0, max(0, min(count, len(found))))
	for _, line := range found {
		if len(records) >= count {
			break
		}
		rec, err := record.Decode(line.Description)
		if err != nil {
			c.logger.Warn("irbis: malformed record in search result", "mfn", line.Mfn, "error", err)
			continue
		}
		rec.Database = database
		records = append(records, rec)
	}
	return records, nil
}
