package engine

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
)

// Aria2 — движок на базе aria2c: многопоточная загрузка прямых ссылок
// с поддержкой докачки.
type Aria2 struct {
	maxRetries int
}

// NewAria2 создаёт движок aria2.
func NewAria2(maxRetries int) *Aria2 {
	return &Aria2{maxRetries: maxRetries}
}

func (e *Aria2) Name() string    { return "aria2" }
func (e *Aria2) Resumable() bool { return true }

func (e *Aria2) Available() bool {
	return toolAvailable("aria2c")
}

// CanHandle: любые http/https URL.
func (e *Aria2) CanHandle(url string) bool {
	return isHTTPURL(url)
}

func (e *Aria2) Download(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	args := []string{
		"--dir", filepath.Dir(req.Dest),
		"--out", filepath.Base(req.Dest),
		"--max-connection-per-server", "16",
		"--min-split-size", "1M",
		"--split", "16",
		"--continue", "true",
		"--max-tries", strconv.Itoa(e.maxRetries),
		"--retry-wait", "3",
		"--check-certificate=false",
		"--user-agent", userAgent,
		"--summary-interval", "1",
		req.URL,
	}

	if err := runTool(ctx, "aria2c", args, parseAria2Line, onProgress); err != nil {
		return nil, err
	}
	return statResult(req.Dest)
}

// parseAria2Line разбирает строку сводки aria2c:
//
//	[#1a2b3c 5.0MiB/10MiB(50%) CN:16 DL:1.2MiB ETA:5s]
func parseAria2Line(line string) (Progress, bool) {
	open := strings.IndexByte(line, '(')
	if open < 0 {
		return Progress{}, false
	}
	pct := strings.IndexByte(line[open:], '%')
	if pct < 0 {
		return Progress{}, false
	}
	percent, err := strconv.ParseFloat(line[open+1:open+pct], 64)
	if err != nil {
		return Progress{}, false
	}

	p := Progress{Percent: percent}
	if dl := strings.Index(line, "DL:"); dl >= 0 {
		token := line[dl+3:]
		if end := strings.IndexAny(token, " ]"); end > 0 {
			token = token[:end]
		}
		p.SpeedBPS = parseSpeed(token)
	}
	return p, true
}
