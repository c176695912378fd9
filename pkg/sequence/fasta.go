package sequence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptyFasta = errors.New("input FASTA is empty")

// Record is one FASTA entry as read from an upload, before cleaning.
type Record struct {
	ID       string
	Sequence string
}

// ParseFASTA reads '>' headers and joins the sequence lines that follow them.
// Blank lines are skipped. The ID is the first word of the header; entries
// without one are named seq_<n>. Sequence lines before the first header form
// an unnamed record, so plain pasted sequences are accepted too.
func ParseFASTA(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		records []Record
		current *Record
		seq     strings.Builder
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Sequence = seq.String()
		if current.ID == "" {
			current.ID = fmt.Sprintf("seq_%d", len(records))
		}
		records = append(records, *current)
		current = nil
		seq.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ">") {
			flush()
			header := strings.TrimSpace(line[1:])
			id := header
			if fields := strings.Fields(header); len(fields) > 0 {
				id = fields[0]
			}
			current = &Record{ID: id}
			continue
		}

		if current == nil {
			current = &Record{}
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FASTA: %w", err)
	}
	flush()

	if len(records) == 0 {
		return nil, ErrEmptyFasta
	}
	return records, nil
}

// WriteFASTA writes records wrapped at width columns (no wrapping when width <= 0).
func WriteFASTA(w io.Writer, records []Record, width int) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := fmt.Fprintf(bw, ">%s\n", rec.ID); err != nil {
			return err
		}
		s := rec.Sequence
		wrap := width
		if wrap <= 0 {
			wrap = len(s)
		}
		for len(s) > 0 {
			n := min(wrap, len(s))
			if _, err := bw.WriteString(s[:n] + "\n"); err != nil {
				return err
			}
			s = s[n:]
		}
	}
	return bw.Flush()
}
