package taxonomy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/yumyai/edna/pkg/model"
)

// Tabular BLAST columns requested from blastn, in this order.
const blastOutfmt = "6 sseqid pident length evalue bitscore qlen sscinames staxids"

// BlastSearcher runs a local blastn against a nucleotide database and turns
// the best hit into a taxonomy. The caller's context bounds the run.
type BlastSearcher struct {
	Binary        string
	DB            string
	MaxTargetSeqs int
}

func NewBlastSearcher(binary, db string) *BlastSearcher {
	if binary == "" {
		binary = "blastn"
	}
	return &BlastSearcher{Binary: binary, DB: db, MaxTargetSeqs: 10}
}

// cleanFasta validates and cleans the input FASTA string.
func cleanFasta(inputFasta string) (string, error) {
	cleaned := strings.TrimSpace(inputFasta)
	if cleaned == "" {
		return "", errors.New("input FASTA string is empty")
	}

	lines := strings.Split(cleaned, "\n")
	var validLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			validLines = append(validLines, trimmed)
		}
	}

	return strings.Join(validLines, "\n"), nil
}

func (b *BlastSearcher) Search(ctx context.Context, sequence string) (*ExternalMatch, error) {
	if strings.TrimSpace(sequence) == "" {
		return nil, errors.New("empty query sequence")
	}
	query, err := cleanFasta(">query\n" + sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to clean FASTA: %w", err)
	}

	maxTargets := b.MaxTargetSeqs
	if maxTargets <= 0 {
		maxTargets = 10
	}
	cmd := exec.CommandContext(ctx, b.Binary,
		"-db", b.DB,
		"-outfmt", blastOutfmt,
		"-max_target_seqs", strconv.Itoa(maxTargets),
	)
	cmd.Stdin = bytes.NewBufferString(query)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", b.Binary, ctx.Err())
		}
		return nil, fmt.Errorf("failed to execute %s: %w: %s", b.Binary, err, strings.TrimSpace(stderr.String()))
	}

	hit, err := parseBlastTabular(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse BLAST output: %w", err)
	}
	if hit == nil {
		return nil, nil
	}
	return hit.match(), nil
}

type blastHit struct {
	subject  string
	pident   float64
	length   int
	evalue   float64
	bitscore float64
	qlen     int
	sciName  string
	taxID    string
}

// parseBlastTabular returns the highest-bitscore row, or nil when there are none.
// Rows with too few columns are skipped.
func parseBlastTabular(r io.Reader) (*blastHit, error) {
	var best *blastHit
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 6 {
			continue
		}
		h := &blastHit{subject: cols[0]}
		var err error
		if h.pident, err = strconv.ParseFloat(cols[1], 64); err != nil {
			return nil, fmt.Errorf("pident %q: %w", cols[1], err)
		}
		if h.length, err = strconv.Atoi(cols[2]); err != nil {
			return nil, fmt.Errorf("length %q: %w", cols[2], err)
		}
		if h.evalue, err = strconv.ParseFloat(cols[3], 64); err != nil {
			return nil, fmt.Errorf("evalue %q: %w", cols[3], err)
		}
		if h.bitscore, err = strconv.ParseFloat(strings.TrimSpace(cols[4]), 64); err != nil {
			return nil, fmt.Errorf("bitscore %q: %w", cols[4], err)
		}
		if h.qlen, err = strconv.Atoi(strings.TrimSpace(cols[5])); err != nil {
			return nil, fmt.Errorf("qlen %q: %w", cols[5], err)
		}
		if len(cols) > 6 {
			h.sciName = strings.TrimSpace(cols[6])
		}
		if len(cols) > 7 {
			h.taxID = strings.TrimSpace(cols[7])
		}
		if best == nil || h.bitscore > best.bitscore {
			best = h
		}
	}
	return best, scanner.Err()
}

// match scores a hit as identity times query coverage.
func (h *blastHit) match() *ExternalMatch {
	tax := model.UnknownTaxonomy()
	if fields := strings.Fields(h.sciName); len(fields) > 0 && h.sciName != "N/A" {
		tax["genus"] = fields[0]
		if len(fields) > 1 {
			tax["species"] = fields[0] + " " + fields[1]
		}
	}

	coverage := 1.0
	if h.qlen > 0 {
		coverage = min(1.0, float64(h.length)/float64(h.qlen))
	}
	confidence := min(1.0, max(0.0, h.pident/100*coverage))

	return &ExternalMatch{
		Taxonomy:    tax,
		Confidence:  confidence,
		ReferenceID: h.subject,
		Details: map[string]any{
			"percent_identity": h.pident,
			"alignment_length": h.length,
			"query_coverage":   coverage,
			"evalue":           h.evalue,
			"bitscore":         h.bitscore,
			"taxid":            h.taxID,
		},
	}
}
