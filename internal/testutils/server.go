// Package testutils provides an in-process IRBIS64 server for tests.
package testutils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pior/irbis/protocol"
	"github.com/pior/irbis/record"
	"github.com/pior/irbis/transport"
)

// Handler answers one query. Handlers run with the server lock held and
// must not call Server methods.
type Handler func(q *protocol.ReceivedQuery, b *protocol.ResponseBuilder)

// Term is a dictionary entry of a fake database.
type Term struct {
	Text string
	Mfns []int
}

// Database is a fake database: records indexed by MFN-1 and a sorted
// dictionary.
type Database struct {
	Name    string
	Records []*record.MarcRecord
	Terms   []Term
	Locked  bool
}

// Server is a fake IRBIS64 server. It keeps its state in memory and answers
// the commands the client sends.
type Server struct {
	ServerVersion string
	Interval      int

	// Password, when set, is required at login.
	Password string

	// MaxPostings caps the MFNs returned by one search.
	MaxPostings int

	// MaxTerms, when positive, caps the terms returned by one page.
	MaxTerms int

	mu           sync.Mutex
	databases    map[string]*Database
	files        map[string]string
	clients      map[int]string
	rejectLogins int
	handlers     map[string]Handler
	counts       map[string]int
	queries      []*protocol.ReceivedQuery
}

func NewServer() *Server {
	s := &Server{
		ServerVersion: "64.2014.1",
		Interval:      10,
		MaxPostings:   protocol.MaxPostings,
		databases:     make(map[string]*Database),
		files:         make(map[string]string),
		clients:       make(map[int]string),
		handlers:      make(map[string]Handler),
		counts:        make(map[string]int),
	}
	s.AddDatabase("IBIS")
	return s
}

// AddDatabase creates an empty database, replacing any with the same name.
func (s *Server) AddDatabase(name string) *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := &Database{Name: name}
	s.databases[strings.ToUpper(name)] = db
	return db
}

// AddRecord stores a copy of rec in database and returns its MFN.
func (s *Server) AddRecord(database string, rec *record.MarcRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.databases[strings.ToUpper(database)]
	saved := rec.Clone()
	saved.Mfn = len(db.Records) + 1
	saved.Version = 1
	db.Records = append(db.Records, saved)
	return saved.Mfn
}

// AddTerm adds a dictionary term of database pointing to mfns.
func (s *Server) AddTerm(database, text string, mfns ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.databases[strings.ToUpper(database)]
	i := sort.Search(len(db.Terms), func(i int) bool { return db.Terms[i].Text >= text })
	if i < len(db.Terms) && db.Terms[i].Text == text {
		db.Terms[i].Mfns = append(db.Terms[i].Mfns, mfns...)
		return
	}
	db.Terms = slices.Insert(db.Terms, i, Term{Text: text, Mfns: mfns})
}

// Record returns a copy of a stored record, or nil.
func (s *Server) Record(database string, mfn int) *record.MarcRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.databases[strings.ToUpper(database)]
	if db == nil || mfn <= 0 || mfn > len(db.Records) {
		return nil
	}
	return db.Records[mfn-1].Clone()
}

// SetFile stores a text file under its specification, e.g. "3.IBIS.brief.pft".
func (s *Server) SetFile(spec, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[spec] = content
}

// RejectLogins makes the next n logins fail with the duplicate client id code.
func (s *Server) RejectLogins(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLogins = n
}

// Handle replaces the handler of a command.
func (s *Server) Handle(command string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// Count returns how many queries with command were received.
func (s *Server) Count(command string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[command]
}

// Total returns how many queries were received.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// Queries returns the queries received so far.
func (s *Server) Queries() []*protocol.ReceivedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

// LastQuery returns the most recent query, or nil.
func (s *Server) LastQuery() *protocol.ReceivedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return nil
	}
	return s.queries[len(s.queries)-1]
}

// Transport returns a transport answering from this server without I/O.
func (s *Server) Transport() transport.Transport {
	return transport.Func(s.Exchange)
}

// Exchange decodes a raw query and returns the raw response.
func (s *Server) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := protocol.ParseQuery(request)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[q.Command]++
	s.queries = append(s.queries, q)

	b := protocol.NewResponseBuilder(q)
	b.ServerVersion = s.ServerVersion
	b.Interval = s.Interval

	if h, ok := s.handlers[q.Command]; ok {
		h(q, b)
		return b.Bytes(), nil
	}

	if q.Command != protocol.CmdRegisterClient {
		if _, ok := s.clients[q.ClientID]; !ok {
			b.Int(protocol.CodeClientNotRegistered)
			return b.Bytes(), nil
		}
	}
	s.dispatch(q, b)
	return b.Bytes(), nil
}

func (s *Server) dispatch(q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	switch q.Command {
	case protocol.CmdRegisterClient:
		s.register(q, b)
	case protocol.CmdUnregisterClient:
		delete(s.clients, q.ClientID)
		b.Int(0)
	case protocol.CmdNop:
		b.Int(0)
	case protocol.CmdGetServerVersion:
		b.Int(0).Ansi("Test Library").Ansi(s.ServerVersion).Int(len(s.clients)).Int(100)
	case protocol.CmdGetProcessList:
		s.processes(b)
	case protocol.CmdReadDocument:
		// No return code.
		b.Ansi(record.WindowsToIrbis(s.files[q.AnsiArg(0)]))
	case protocol.CmdListFiles:
		s.listFiles(q, b)
	default:
		db := s.databases[strings.ToUpper(q.AnsiArg(0))]
		if db == nil {
			b.Int(protocol.CodeFileNotFound)
			return
		}
		s.databaseCommand(db, q, b)
	}
}

func (s *Server) databaseCommand(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	switch q.Command {
	case protocol.CmdReadRecord:
		s.readRecord(db, q, b)
	case protocol.CmdUpdateRecord:
		s.updateRecord(db, q, b)
	case protocol.CmdFormatRecord:
		s.formatRecord(db, q, b)
	case protocol.CmdReadTerms:
		s.readTerms(db, q, b, false)
	case protocol.CmdReadTermsReverse:
		s.readTerms(db, q, b, true)
	case protocol.CmdReadPostings:
		s.readPostings(db, q, b)
	case protocol.CmdSearch:
		s.search(db, q, b)
	case protocol.CmdGetMaxMfn:
		b.Int(len(db.Records) + 1)
	case protocol.CmdUnlockRecords:
		for i := 1; i < len(q.Args); i++ {
			if mfn := q.IntArg(i); mfn > 0 && mfn <= len(db.Records) {
				db.Records[mfn-1].Status &^= record.StatusLocked
			}
		}
		b.Int(0)
	case protocol.CmdEmptyDatabase:
		db.Records = nil
		db.Terms = nil
		b.Int(0)
	case protocol.CmdUnlockDatabase:
		db.Locked = false
		b.Int(0)
	case protocol.CmdActualizeRecord, protocol.CmdReloadDictionary, protocol.CmdReloadMasterFile:
		b.Int(0)
	default:
		b.Int(protocol.CodeWrongProtocol)
	}
}

func (s *Server) register(q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	if s.rejectLogins > 0 {
		s.rejectLogins--
		b.Int(protocol.CodeClientAlreadyExists)
		return
	}
	if _, taken := s.clients[q.ClientID]; taken {
		b.Int(protocol.CodeClientAlreadyExists)
		return
	}
	if s.Password != "" && q.AnsiArg(1) != s.Password {
		b.Int(protocol.CodeWrongPassword)
		return
	}

	username := q.AnsiArg(0)
	s.clients[q.ClientID] = username
	b.Int(0).Int(s.Interval).Ansi("[Main]").Ansi("User=" + username)
}

func (s *Server) processes(b *protocol.ResponseBuilder) {
	ids := make([]int, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	b.Int(0).Int(len(ids)).Int(10)
	for i, id := range ids {
		b.Int(i + 1).
			Ansi("127.0.0.1").
			Ansi(s.clients[id]).
			Int(id).
			Ansi(protocol.WorkstationCataloger).
			Ansi("2024-01-01 10:00:00").
			Ansi("N").
			Int(1).
			Int(1000 + i).
			Ansi("Ready")
	}
}

func (s *Server) listFiles(q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	// No return code.
	for i := range q.Args {
		pattern := q.AnsiArg(i)
		var names []string
		for spec := range s.files {
			if ok, _ := path.Match(pattern, spec); ok {
				parts := strings.SplitN(spec, ".", 3)
				names = append(names, parts[len(parts)-1])
			}
		}
		slices.Sort(names)
		b.Ansi(strings.Join(names, record.IrbisDelimiter))
	}
}

func (s *Server) readRecord(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	mfn := q.IntArg(1)
	if mfn <= 0 || mfn > len(db.Records) {
		b.Int(protocol.CodeMfnOutOfRange)
		return
	}

	rec := db.Records[mfn-1]
	if version := q.IntArg(2); version > 0 && version != rec.Version {
		b.Int(protocol.CodeNoPreviousVersion)
		return
	}

	code := 0
	switch {
	case rec.Status.Has(record.StatusLogicallyDeleted):
		code = protocol.CodeRecordLogicallyDel
	case rec.Status.Has(record.StatusLocked):
		code = protocol.CodeRecordLocked
	}
	b.Int(code)
	for _, line := range record.EncodeLines(rec) {
		b.Utf(line)
	}
}

func (s *Server) updateRecord(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	if db.Locked {
		b.Int(protocol.CodeDatabaseLocked)
		return
	}
	rec, err := record.Decode(q.Arg(3))
	if err != nil {
		b.Int(protocol.CodeWrongProtocol)
		return
	}

	switch {
	case rec.Mfn == 0:
		rec.Mfn = len(db.Records) + 1
		rec.Version = 1
		db.Records = append(db.Records, rec)
	case rec.Mfn <= len(db.Records):
		rec.Version = db.Records[rec.Mfn-1].Version + 1
		db.Records[rec.Mfn-1] = rec
	default:
		b.Int(protocol.CodeMfnOutOfRange)
		return
	}
	if q.IntArg(1) != 0 {
		rec.Status |= record.StatusLocked
	}

	lines := record.EncodeLines(rec)
	b.Int(len(db.Records) + 1)
	b.Utf(lines[0])
	b.Utf(strings.Join(lines[1:], record.IrbisDelimiter))
}

// formatRecord renders the title (200^a) whatever the format.
func (s *Server) formatRecord(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	var rec *record.MarcRecord
	if q.IntArg(2) == -2 {
		decoded, err := record.Decode(q.Arg(3))
		if err != nil {
			b.Int(protocol.CodeWrongProtocol)
			return
		}
		rec = decoded
	} else {
		mfn := q.IntArg(3)
		if mfn <= 0 || mfn > len(db.Records) {
			b.Int(protocol.CodeMfnOutOfRange)
			return
		}
		rec = db.Records[mfn-1]
	}
	b.Int(0).Utf(rec.FmCode(200, 'a'))
}

func (s *Server) readTerms(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder, reverse bool) {
	start := q.Arg(1)
	number := q.IntArg(2)
	if s.MaxTerms > 0 && number > s.MaxTerms {
		number = s.MaxTerms
	}
	terms := db.Terms

	if !reverse {
		i := sort.Search(len(terms), func(i int) bool { return terms[i].Text >= start })
		if i == len(terms) {
			b.Int(protocol.CodeLastTermInList)
			return
		}
		code := 0
		if terms[i].Text != start {
			code = protocol.CodeTermNotFound
		}
		b.Int(code)
		for _, t := range terms[i:min(i+number, len(terms))] {
			b.Utf(strconv.Itoa(len(t.Mfns)) + "#" + t.Text)
		}
		return
	}

	i := sort.Search(len(terms), func(i int) bool { return terms[i].Text > start }) - 1
	if i < 0 {
		b.Int(protocol.CodeFirstTermInList)
		return
	}
	b.Int(0)
	for j := i; j >= 0 && i-j < number; j-- {
		b.Utf(strconv.Itoa(len(terms[j].Mfns)) + "#" + terms[j].Text)
	}
}

func (s *Server) findTerm(db *Database, text string) *Term {
	i := sort.Search(len(db.Terms), func(i int) bool { return db.Terms[i].Text >= text })
	if i < len(db.Terms) && db.Terms[i].Text == text {
		return &db.Terms[i]
	}
	return nil
}

func (s *Server) readPostings(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	number := q.IntArg(1)
	first := max(q.IntArg(2), 1)

	var lines []string
	for i := 4; i < len(q.Args); i++ {
		term := s.findTerm(db, q.Arg(i))
		if term == nil {
			continue
		}
		for _, mfn := range term.Mfns {
			lines = append(lines, fmt.Sprintf("%d#200#1#1#%s", mfn, term.Text))
		}
	}
	if len(lines) == 0 {
		b.Int(protocol.CodeTermNotFound)
		return
	}

	lines = window(lines, first, number)
	b.Int(0)
	for _, line := range lines {
		b.Utf(line)
	}
}

// search understands a single term, optionally truncated with '$'.
func (s *Server) search(db *Database, q *protocol.ReceivedQuery, b *protocol.ResponseBuilder) {
	expression := strings.TrimSpace(q.Arg(1))
	number := q.IntArg(2)
	first := q.IntArg(3)
	format := q.Arg(4)

	var mfns []int
	if prefix, truncated := strings.CutSuffix(expression, "$"); truncated {
		for _, t := range db.Terms {
			if strings.HasPrefix(t.Text, prefix) {
				mfns = append(mfns, t.Mfns...)
			}
		}
	} else if t := s.findTerm(db, expression); t != nil {
		mfns = append(mfns, t.Mfns...)
	}
	slices.Sort(mfns)
	mfns = slices.Compact(mfns)

	b.Int(0).Int(len(mfns))
	if first == 0 {
		return
	}

	if number == 0 || number > s.MaxPostings {
		number = s.MaxPostings
	}
	for _, mfn := range window(mfns, first, number) {
		switch {
		case format == "":
			b.Int(mfn)
		case format == "!&uf('+0')":
			b.Utf(strconv.Itoa(mfn) + "#" + record.Encode(db.Records[mfn-1]))
		default:
			b.Utf(strconv.Itoa(mfn) + "#" + db.Records[mfn-1].FmCode(200, 'a'))
		}
	}
}

// window returns number items starting at the 1-based position first.
// Zero number means all.
func window[T any](items []T, first, number int) []T {
	if first > len(items) {
		return nil
	}
	items = items[first-1:]
	if number > 0 && number < len(items) {
		items = items[:number]
	}
	return items
}

// Serve answers queries arriving on ln, one per connection, until ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	lengthLine, err := r.ReadString(protocol.RequestNewLine)
	if err != nil {
		return
	}
	length, err := strconv.Atoi(strings.TrimSpace(lengthLine))
	if err != nil || length < 0 {
		return
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return
	}

	response, err := s.Exchange(context.Background(), append([]byte(lengthLine), body...))
	if err != nil {
		return
	}
	conn.Write(response)
}

// ListenTCP serves on a loopback port for the duration of the test and
// returns the address.
func (s *Server) ListenTCP(tb testing.TB) string {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	tb.Cleanup(func() { ln.Close() })
	go s.Serve(ln)
	return ln.Addr().String()
}
