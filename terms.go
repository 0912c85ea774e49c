package irbis

import (
	"context"
	"strings"

	"github.com/pior/irbis/protocol"
)

const defaultTermsNumber = 100

// ReadTerms reads up to number dictionary terms of the connection database,
// starting at start.
func (c *Connection) ReadTerms(ctx context.Context, start string, number int) ([]TermInfo, error) {
	return c.ReadTermsWith(ctx, TermParameters{Start: start, Number: number})
}

// ReadTermsWith reads a page of the dictionary, forward or in reverse order.
func (c *Connection) ReadTermsWith(ctx context.Context, params TermParameters) ([]TermInfo, error) {
	if params.Number < 0 {
		return nil, invalidArgument("number of terms must not be negative, got %d", params.Number)
	}
	if !c.ready() {
		return nil, nil
	}

	number := params.Number
	if number == 0 {
		number = defaultTermsNumber
	}
	command := protocol.CmdReadTerms
	if params.Reverse {
		command = protocol.CmdReadTermsReverse
	}

	query := c.newQuery(command).
		AddAnsi(c.database(params.Database)).
		AddUtf(params.Start).
		AddInt(number)
	if params.Format != "" {
		query.AddFormat(params.Format)
	}

	resp := c.execute(ctx, query, protocol.ReadTermsCodes...)
	if resp == nil {
		return nil, nil
	}
	return parseTerms(resp.RemainingUtfLines()), nil
}

// ReadAllTerms reads every term of the connection database starting with
// prefix, page by page. The prefix is matched in upper case, as the
// dictionary stores it.
//
// A page starts with the term the previous page ended on; that term is kept
// once. Reading stops at the first term outside the prefix, at an empty
// term (end of the dictionary), or at a page with nothing new. Servers may
// answer with fewer terms than asked for, so a short page is not the end.
func (c *Connection) ReadAllTerms(ctx context.Context, prefix string) ([]TermInfo, error) {
	if !c.ready() {
		return nil, nil
	}

	prefix = strings.ToUpper(prefix)
	pageSize := c.termsPageSize

	var result []TermInfo
	start := prefix
	for {
		page, err := c.ReadTermsWith(ctx, TermParameters{Start: start, Number: pageSize})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return result, nil
		}

		skip := 0
		if n := len(result); n > 0 && page[0].Text == result[n-1].Text {
			skip = 1
		}

		added := 0
		for _, term := range page[skip:] {
			if term.Text == "" || !strings.HasPrefix(term.Text, prefix) {
				return result, nil
			}
			result = append(result, term)
			added++
		}

		if added == 0 {
			return result, nil
		}
		start = page[len(page)-1].Text
	}
}

// ReadPostings reads the postings of one or more terms.
func (c *Connection) ReadPostings(ctx context.Context, params PostingParameters) ([]TermPosting, error) {
	if len(params.Terms) == 0 {
		return nil, invalidArgument("no terms")
	}
	if params.Number < 0 || params.First < 0 {
		return nil, invalidArgument("negative posting window %d/%d", params.First, params.Number)
	}
	if !c.ready() {
		return nil, nil
	}

	first := params.First
	if first == 0 {
		first = 1
	}

	query := c.newQuery(protocol.CmdReadPostings).
		AddAnsi(c.database(params.Database)).
		AddInt(params.Number).
		AddInt(first).
		AddFormat(params.Format)
	for _, term := range params.Terms {
		query.AddUtf(term)
	}

	resp := c.execute(ctx, query, protocol.ReadTermsCodes...)
	if resp == nil {
		return nil, nil
	}
	return parsePostings(resp.RemainingUtfLines()), nil
}
