package render

import (
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/yumyai/edna/pkg/diversity"
	"github.com/yumyai/edna/pkg/model"
)

// colorByStability maps stability onto a yellow to dark red ramp. Clusters
// below 1 are grey.
func colorByStability(stability float64) string {
	if stability < 1 {
		return "#CCCCCC"
	}
	const capVal = 50.0
	t := math.Min(math.Log1p(stability)/math.Log1p(capVal), 1)
	// #FFFFB2 to #800000
	r := int(math.Round(lerp(255, 128, t)))
	g := int(math.Round(lerp(255, 0, t)))
	b := int(math.Round(lerp(178, 0, t)))
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

var runPageTemplate *template.Template

func init() {
	mainTmpl := `
	<!DOCTYPE html>
	<html>
	<head>
		<title>Clustering run {{ .Run.ID }}</title>
	</head>
	<body>
		<h1>Clustering run {{ .Run.ID }}</h1>
		<p>{{ .Run.NClusters }} clusters, {{ .Run.NNoise }} noise sequences ({{ printf "%.1f" (pct .Run.NoiseRatio) }}%).
		min_cluster_size={{ .Run.MinClusterSize }}, min_samples={{ .Run.MinSamples }}.
		{{ with .Run.Silhouette }}Silhouette {{ printf "%.3f" (deref .) }}.{{ end }}</p>
		{{ with .Diversity }}
		<table border="1">
			<tr><th>Shannon</th><th>Simpson</th><th>Richness</th><th>Evenness</th><th>Known taxa</th><th>Novel clusters</th></tr>
			<tr>
				<td>{{ printf "%.3f" .ShannonIndex }}</td>
				<td>{{ printf "%.3f" .SimpsonIndex }}</td>
				<td>{{ .Richness }}</td>
				<td>{{ printf "%.3f" .Evenness }}</td>
				<td>{{ printf "%.1f" .KnownTaxaPercent }}%</td>
				<td>{{ .NovelTaxaCount }}</td>
			</tr>
		</table>
		{{ end }}
		<h2>Clusters</h2>
		<table border="1">
			<tr><th>Cluster</th><th>Members</th><th>Stability</th></tr>
			{{ range .Clusters }}
			<tr>
				<td><a href="/api/v1/clusters/{{ .ID }}">{{ .ID }}</a></td>
				<td>{{ .MemberCount }}</td>
				<td style="background-color: {{ color .Stability }}">{{ printf "%.3f" .Stability }}</td>
			</tr>
			{{ end }}
		</table>
	</body>
	</html>`

	runPageTemplate = template.New("run_page").Funcs(template.FuncMap{
		"color": func(s float64) template.CSS { return template.CSS(colorByStability(s)) },
		"pct":   func(f float64) float64 { return 100 * f },
		"deref": func(f *float64) float64 { return *f },
	})
	runPageTemplate = template.Must(runPageTemplate.Parse(mainTmpl))
}

// RenderRunPage writes an overview of one clustering run. metrics may be nil.
func RenderRunPage(w io.Writer, run *model.ClusterRun, clusters []model.Cluster, metrics *diversity.Metrics) error {
	data := struct {
		Run       *model.ClusterRun
		Clusters  []model.Cluster
		Diversity *diversity.Metrics
	}{run, clusters, metrics}
	return runPageTemplate.Execute(w, data)
}
