// Render HTML for viewing a cluster

package render

import (
	"fmt"
	"html/template"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/yumyai/edna/logger"
	"github.com/yumyai/edna/pkg/model"
	"github.com/yumyai/edna/pkg/sequence"
)

var clusterPageTemplate *template.Template

// init initializes the templates used for rendering the cluster page.
func init() {
	mainTmpl := `
	<!DOCTYPE html>
	<html>
	<head>
		<title>Cluster {{ .Cluster.ID }}</title>
		<style>
		table { border-collapse: collapse; }
		td, th { padding: 2px 8px; }
		</style>
	</head>
	<body>
		<h1>Cluster {{ .Cluster.ID }}</h1>
		{{template "cluster_summary" . }}
		{{template "cluster_members" . }}
		<h2>Resources</h2>
		<ul>
			<li>[<a href="/api/v1/clusters/{{ .Cluster.ID }}/fasta" target="_blank">FNA</a>] All member sequences in FASTA format</li>
		</ul>
	</body>
	</html>`

	clusterSummaryTmpl := `
	{{define "cluster_summary"}}
		<div>
			<p>Run {{ .Cluster.RunID }}: {{ .Cluster.MemberCount }} members, stability {{ printf "%.3f" .Cluster.Stability }}.</p>
			<p>Average length {{ printf "%.1f" .AvgLength }} bp, GC content {{ percent .AvgGC }}.</p>
			{{ if .Taxa }}
			<p>Taxa:
			{{ range $i, $t := .Taxa }}{{ if $i }}, {{ end }}{{ $t.Name }} ({{ $t.Count }}){{ end }}
			</p>
			{{ end }}
		</div>
	{{end}}`

	clusterMembersTmpl := `
	{{define "cluster_members"}}
		<table border="1">
		<tr>
			<th>Sequence ID</th>
			<th>Length (bp)</th>
			<th>GC</th>
			<th>Quality</th>
			<th>Genus</th>
			<th>Species</th>
			<th>Confidence</th>
		</tr>
		{{ range .Members }}
			<tr style="background-color: {{ if .Taxonomy.IsKnown }}#d9f2e6{{ else }}#f2d9d9{{ end }}; color: #333333">
				<td><a href="/api/v1/sequences/{{ .ID }}">{{ .ID }}</a></td>
				<td>{{ .Length }}</td>
				<td>{{ percent .GCContent }}</td>
				<td>{{ printf "%.1f" .QualityScore }}</td>
				<td>{{ .Taxonomy.Rank "genus" }}</td>
				<td>{{ .Taxonomy.Rank "species" }}</td>
				<td>{{ printf "%.2f" .TaxonomyConfidence }}</td>
			</tr>
		{{ end }}
		</table>
	{{end}}`

	clusterPageTemplate = template.New("cluster_page").Funcs(template.FuncMap{
		"percent": func(f float64) string { return fmt.Sprintf("%.1f%%", 100*f) },
	})
	clusterPageTemplate = template.Must(clusterPageTemplate.Parse(mainTmpl))
	clusterPageTemplate = template.Must(clusterPageTemplate.Parse(clusterSummaryTmpl))
	clusterPageTemplate = template.Must(clusterPageTemplate.Parse(clusterMembersTmpl))
}

// TaxonCount is how many members of a cluster carry one genus.
type TaxonCount struct {
	Name  string
	Count int
}

// countGenera tallies member genera, most common first. Unknown is listed too.
func countGenera(members []*model.SequenceRecord) []TaxonCount {
	counts := map[string]int{}
	for _, m := range members {
		counts[m.Taxonomy.Rank("genus")]++
	}
	out := make([]TaxonCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, TaxonCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// RenderClusterPage writes the HTML page for one cluster and its members.
func RenderClusterPage(w io.Writer, cluster *model.Cluster, members []*model.SequenceRecord) error {
	logger.Debug("Rendering cluster page", zap.Int("cluster_id", cluster.ID), zap.Int("members", len(members)))

	var totalLen, totalGC float64
	for _, m := range members {
		totalLen += float64(m.Length)
		totalGC += m.GCContent
	}
	avgLen, avgGC := 0.0, 0.0
	if len(members) > 0 {
		avgLen = totalLen / float64(len(members))
		avgGC = totalGC / float64(len(members))
	}

	data := struct {
		Cluster   *model.Cluster
		Members   []*model.SequenceRecord
		Taxa      []TaxonCount
		AvgLength float64
		AvgGC     float64
	}{
		Cluster:   cluster,
		Members:   members,
		Taxa:      countGenera(members),
		AvgLength: avgLen,
		AvgGC:     avgGC,
	}

	return clusterPageTemplate.Execute(w, data)
}

// RenderClusterFasta writes the cleaned member sequences as FASTA.
func RenderClusterFasta(w io.Writer, members []*model.SequenceRecord) error {
	records := make([]sequence.Record, len(members))
	for i, m := range members {
		records[i] = sequence.Record{ID: m.ID, Sequence: m.CleanedData}
	}
	return sequence.WriteFASTA(w, records, 80)
}
