// Package output renders WeiBack's command results for a terminal, in
// one of a few interchangeable formats.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/weibackapp/weiback"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

func NewFormatter(format Format) *Formatter {
	return &Formatter{format: format, out: os.Stdout, err: os.Stderr}
}

// NewFormatterWithWriters builds a formatter against custom writers, for testability.
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{format: format, out: out, err: errW}
}

func (f *Formatter) OutputTaskStatus(status *weiback.TaskStatus) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(status)
	case FormatText:
		fmt.Fprintf(f.out, "id=%s\tkind=%s\tstatus=%s\tprogress=%d\ttotal=%d\n",
			status.ID, status.Kind, status.Status, status.Progress, status.Total)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "%s: %s (%d/%d)\n", status.Kind, status.Status, status.Progress, status.Total)
		if status.Error != "" {
			fmt.Fprintf(f.out, "  error: %s\n", status.Error)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) OutputQueryResult(result *weiback.QueryResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		for _, p := range result.Posts {
			fmt.Fprintf(f.out, "id=%d\tuid=%d\tfavorited=%v\tcreated=%s\n",
				p.ID, p.Owner.ID, p.Favorited, formatTime(p.CreatedAt))
		}
		return nil
	case FormatHuman:
		if len(result.Posts) == 0 {
			fmt.Fprintln(f.out, "No matching posts")
			return nil
		}
		fmt.Fprintf(f.out, "%d posts (of %s total):\n\n", len(result.Posts), humanize.Comma(int64(result.TotalItems)))
		for _, p := range result.Posts {
			fmt.Fprintf(f.out, "  #%d  %s  %s\n", p.ID, humanize.Time(time.Unix(p.CreatedAt, 0)), truncate(p.Text, 80))
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) OutputCleanupResult(result *weiback.CleanupResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "groups=%d\tremoved=%d\n", result.GroupsProcessed, result.VariantsRemoved)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Removed %s across %s\n",
			pluralize(result.VariantsRemoved, "variant", "variants"),
			pluralize(result.GroupsProcessed, "group", "groups"))
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) OutputExportResult(result *weiback.ExportResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "posts=%d\tbatches=%d\tdir=%s\n", result.TotalPosts, result.Batches, result.OutputDir)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Exported %s across %s to %s\n",
			pluralize(result.TotalPosts, "post", "posts"),
			pluralize(result.Batches, "file", "files"),
			result.OutputDir)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputBlobSummary reports the size of a fetched picture blob without
// dumping its bytes to the terminal.
func (f *Formatter) OutputBlobSummary(id string, size int) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]any{"id": id, "bytes": size})
	default:
		fmt.Fprintf(f.out, "%s: %s\n", id, humanize.Bytes(uint64(size)))
		return nil
	}
}

func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

func formatTime(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).Format(time.RFC3339)
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
