package engine

import (
	"context"
	"strconv"
)

// Curl — движок на базе curl: последний резерв цепочки fallback.
// Прогресс не разбирается, процесс наблюдается только по коду возврата.
type Curl struct {
	maxRetries int
}

// NewCurl создаёт движок curl.
func NewCurl(maxRetries int) *Curl {
	return &Curl{maxRetries: maxRetries}
}

func (e *Curl) Name() string    { return "curl" }
func (e *Curl) Resumable() bool { return true }

func (e *Curl) Available() bool {
	return toolAvailable("curl")
}

func (e *Curl) CanHandle(url string) bool {
	return isHTTPURL(url)
}

func (e *Curl) Download(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	args := []string{
		"--location",
		"--continue-at", "-",
		"--retry", strconv.Itoa(e.maxRetries),
		"--retry-delay", "3",
		"--insecure",
		"--user-agent", userAgent,
		"--output", req.Dest,
		"--silent", "--show-error",
		req.URL,
	}

	if err := runTool(ctx, "curl", args, nil, nil); err != nil {
		return nil, err
	}
	return statResult(req.Dest)
}
