package engine

import (
	"context"
	"strconv"
	"strings"
)

// Wget — движок на базе wget: простая загрузка прямых ссылок
// с докачкой (--continue).
type Wget struct {
	maxRetries int
}

// NewWget создаёт движок wget.
func NewWget(maxRetries int) *Wget {
	return &Wget{maxRetries: maxRetries}
}

func (e *Wget) Name() string    { return "wget" }
func (e *Wget) Resumable() bool { return true }

func (e *Wget) Available() bool {
	return toolAvailable("wget")
}

func (e *Wget) CanHandle(url string) bool {
	return isHTTPURL(url)
}

func (e *Wget) Download(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	args := []string{
		"--continue",
		"--tries", strconv.Itoa(e.maxRetries),
		"--no-check-certificate",
		"--user-agent", userAgent,
		"--output-document", req.Dest,
		"--progress=dot:mega",
		req.URL,
	}

	if err := runTool(ctx, "wget", args, parseWgetLine, onProgress); err != nil {
		return nil, err
	}
	return statResult(req.Dest)
}

// parseWgetLine разбирает строку прогресса wget (--progress=dot):
//
//	  3072K .......... .......... 42% 1.5M 5s
func parseWgetLine(line string) (Progress, bool) {
	pct := strings.IndexByte(line, '%')
	if pct <= 0 {
		return Progress{}, false
	}

	// Процент: цифры перед '%'
	start := pct
	for start > 0 && (line[start-1] >= '0' && line[start-1] <= '9' || line[start-1] == '.') {
		start--
	}
	if start == pct {
		return Progress{}, false
	}
	percent, err := strconv.ParseFloat(line[start:pct], 64)
	if err != nil {
		return Progress{}, false
	}

	p := Progress{Percent: percent}
	// Скорость: следующий токен после процента, вида 1.5M / 800K
	rest := strings.Fields(line[pct+1:])
	if len(rest) > 0 {
		p.SpeedBPS = parseWgetSpeed(rest[0])
	}
	return p, true
}

// parseWgetSpeed разбирает скорость wget: 1.5M, 800K, 1.5M/s.
func parseWgetSpeed(s string) float64 {
	s = strings.TrimSuffix(s, "/s")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "M"):
		mult, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult, s = 1<<10, strings.TrimSuffix(s, "K")
	default:
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * mult
}
