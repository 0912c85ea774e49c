package irbis

import (
	"strconv"
	"strings"
)

// Path selects the server directory a file lives in.
type Path int

const (
	PathSystem           Path = 0
	PathData             Path = 1
	PathMasterFile       Path = 2
	PathInvertedFile     Path = 3
	PathParameterFile    Path = 10
	PathFullText         Path = 11
	PathInternalResource Path = 12
)

// FileSpecification names a file on the server.
type FileSpecification struct {
	Path     Path
	Database string // ignored for PathSystem and PathData
	Filename string
	Content  string // file body, for commands that write
}

// String renders the specification the way the server expects it.
func (s FileSpecification) String() string {
	var result string
	switch s.Path {
	case PathSystem, PathData:
		result = strconv.Itoa(int(s.Path)) + ".." + s.Filename
	default:
		result = strconv.Itoa(int(s.Path)) + "." + s.Database + "." + s.Filename
	}
	if s.Content != "" {
		result = "&" + result + "&" + s.Content
	}
	return result
}

// ProcessInfo describes a server process serving a client.
type ProcessInfo struct {
	Number        string
	IPAddress     string
	Name          string
	ClientID      string
	Workstation   string
	Started       string
	LastCommand   string
	CommandNumber string
	ProcessID     string
	State         string
}

const processInfoLines = 10

func parseProcesses(lines []string) []ProcessInfo {
	if len(lines) < 2 {
		return nil
	}
	count, _ := strconv.Atoi(strings.TrimSpace(lines[0]))
	perProcess, _ := strconv.Atoi(strings.TrimSpace(lines[1]))
	if count <= 0 || perProcess < processInfoLines {
		return nil
	}

	lines = lines[2:]
	result := make([]ProcessInfo, 0, count)
	for range count {
		if len(lines) < processInfoLines {
			break
		}
		result = append(result, ProcessInfo{
			Number:        lines[0],
			IPAddress:     lines[1],
			Name:          lines[2],
			ClientID:      lines[3],
			Workstation:   lines[4],
			Started:       lines[5],
			LastCommand:   lines[6],
			CommandNumber: lines[7],
			ProcessID:     lines[8],
			State:         lines[9],
		})
		lines = lines[min(perProcess, len(lines)):]
	}
	return result
}

// VersionInfo describes the server.
type VersionInfo struct {
	Organization     string
	Version          string
	ConnectedClients int
	MaxClients       int
}

func parseVersion(lines []string) VersionInfo {
	var info VersionInfo
	if len(lines) == 3 {
		info.Version = lines[0]
		info.ConnectedClients, _ = strconv.Atoi(lines[1])
		info.MaxClients, _ = strconv.Atoi(lines[2])
		return info
	}
	if len(lines) >= 4 {
		info.Organization = lines[0]
		info.Version = lines[1]
		info.ConnectedClients, _ = strconv.Atoi(lines[2])
		info.MaxClients, _ = strconv.Atoi(lines[3])
	}
	return info
}

// TermInfo is a dictionary entry: the term and the number of its postings.
type TermInfo struct {
	Count int
	Text  string
}

func parseTerms(lines []string) []TermInfo {
	result := make([]TermInfo, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		count, text, _ := strings.Cut(line, "#")
		n, _ := strconv.Atoi(count)
		result = append(result, TermInfo{Count: n, Text: text})
	}
	return result
}

// TermParameters selects a page of the dictionary.
type TermParameters struct {
	Database string // empty means the connection database
	Start    string
	Number   int // zero means 100
	Reverse  bool
	Format   string // optional, formats the records of each term
}

// TermPosting is one occurrence of a term in a record.
type TermPosting struct {
	Mfn        int
	Tag        int
	Occurrence int
	Count      int
	Text       string
}

func parsePostings(lines []string) []TermPosting {
	result := make([]TermPosting, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, "#", 5)
		if len(parts) < 4 {
			continue
		}
		p := TermPosting{}
		p.Mfn, _ = strconv.Atoi(parts[0])
		p.Tag, _ = strconv.Atoi(parts[1])
		p.Occurrence, _ = strconv.Atoi(parts[2])
		p.Count, _ = strconv.Atoi(parts[3])
		if len(parts) == 5 {
			p.Text = parts[4]
		}
		result = append(result, p)
	}
	return result
}

// PostingParameters selects postings of one or more terms.
type PostingParameters struct {
	Database string
	Terms    []string
	First    int // zero means 1
	Number   int // zero means all
	Format   string
}

// SearchParameters describes a search.
type SearchParameters struct {
	Database    string
	Expression  string
	Number      int // zero means as many as the server returns
	FirstRecord int // zero means 1
	Format      string
	MinMfn      int
	MaxMfn      int
	Sequential  string // sequential search expression applied to the result
}

// FoundLine is a search hit: the MFN and the formatted description, if a
// format was requested.
type FoundLine struct {
	Mfn         int
	Description string
}

func parseFound(lines []string) []FoundLine {
	result := make([]FoundLine, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		mfn, description, _ := strings.Cut(line, "#")
		n, err := strconv.Atoi(mfn)
		if err != nil {
			continue
		}
		result = append(result, FoundLine{Mfn: n, Description: description})
	}
	return result
}
