package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
)

// writeJSONReport пишет отчёт только внутри текущего каталога.
func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	if !filepath.IsLocal(clean) {
		return fmt.Errorf("report path %q must be a file inside the working directory", path)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}

func printReport(w io.Writer, r report, cfg config) {
	s := r.Scenarios
	_, _ = fmt.Fprintf(w, "mode=%s run=%s duration=%.2fs rps=%.2f\n", cfg.mode, runTarget(cfg), r.DurationSeconds, r.RPS)
	_, _ = fmt.Fprintf(w, "scenarios=%d ok=%d failed=%d error_rate=%.4f avg=%.2fms p50=%.2fms p95=%.2fms p99=%.2fms\n\n",
		s.Calls, s.Success, s.Failed, s.ErrorRate, s.LatencyMs.Avg, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99)

	names := make([]string, 0, len(r.Endpoints))
	for name := range r.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENDPOINT\tCALLS\tOK\tFAILED\tP95 MS\tP99 MS")
	for _, name := range names {
		e := r.Endpoints[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%.2f\n", name, e.Calls, e.Success, e.Failed, e.LatencyMs.P95, e.LatencyMs.P99)
	}
	_ = tw.Flush()
}
