package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
)

// sniffSize is the number of leading bytes inspected for the delimiter.
const sniffSize = 64 * 1024

// candidateDelimiters are tried in order when sniffing; ties go to the first.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ReadCSV parses delimited text whose first record is the header.
func ReadCSV(name string, r io.Reader, opts Options) (*Table, error) {
	br := bufio.NewReaderSize(r, sniffSize)

	delim := opts.Delimiter
	if delim == 0 {
		head, err := br.Peek(sniffSize)
		if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeUnreadableSource,
				fmt.Sprintf("failed to read %s", name), err)
		}
		delim = SniffDelimiter(head)
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeEmptySource,
			fmt.Sprintf("%s is empty", name), nil)
	}
	if err != nil {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
			fmt.Sprintf("failed to parse header of %s", name), err)
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
				fmt.Sprintf("failed to parse %s", name), err)
		}
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
	}

	return build(name, header, records, opts)
}

// SniffDelimiter picks the candidate delimiter occurring most often, outside
// quotes, in the first line of head. It defaults to ','.
func SniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, b := range string(head) {
		if b == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[b]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if f != "" {
			return false
		}
	}
	return true
}
