package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// Record is one input line before validation.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Format selects how input is parsed.
type Format string

const (
	// FormatJSONL parses one JSON object per line.
	FormatJSONL Format = "jsonl"
	// FormatText treats every non-blank line as one item.
	FormatText Format = "text"
)

// ParseFormat validates s, defaulting to FormatJSONL when empty.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSONL:
		return FormatJSONL, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("ingestion: unknown format %q (valid: jsonl, text)", s)
	}
}

// Read parses r in format. Blank lines are ignored; a malformed JSON line
// is an error naming its line number. source is applied to records that do
// not set their own.
func Read(r io.Reader, format Format, source string) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []Record
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if format == FormatText {
			rec.Text = raw
		} else if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("ingestion: line %d: %w", line, err)
		}
		if rec.Source == "" {
			rec.Source = source
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: read: %w", err)
	}
	return out, nil
}

// Open returns a reader for location: "-" is stdin, http(s) URLs are
// fetched with client, anything else is a file path. The caller closes it.
func Open(ctx context.Context, client *http.Client, location string) (io.ReadCloser, error) {
	switch {
	case location == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"):
		return fetch(ctx, client, location)
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("ingestion: open %s: %w", location, err)
		}
		return f, nil
	}
}

// fetch retrieves the body of url.
func fetch(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ingestion: creating request: %w", err)
	}
	req.Header.Set("User-Agent", "triage-go/1.0 (feedback ingestion)")
	req.Header.Set("Accept", "application/x-ndjson, application/json, text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingestion: http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ingestion: unexpected status %d for %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}
