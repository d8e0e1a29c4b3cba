package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// YtDlp — движок на базе yt-dlp. Единственный движок, понимающий
// страницы видеоплатформ, поэтому обрабатывает только URL с
// распознанной платформой.
type YtDlp struct {
	maxRetries int
	// detectPlatform возвращает платформу URL или "direct"
	detectPlatform func(url string) string
}

// NewYtDlp создаёт движок yt-dlp.
func NewYtDlp(maxRetries int, detectPlatform func(url string) string) *YtDlp {
	return &YtDlp{maxRetries: maxRetries, detectPlatform: detectPlatform}
}

func (e *YtDlp) Name() string    { return "yt-dlp" }
func (e *YtDlp) Resumable() bool { return false }

func (e *YtDlp) Available() bool {
	return toolAvailable("yt-dlp")
}

// CanHandle: только URL распознанных платформ. Прямые ссылки
// отдаются универсальным движкам.
func (e *YtDlp) CanHandle(url string) bool {
	return e.detectPlatform(url) != "direct"
}

// qualityHeight извлекает высоту из качества вида "1080p".
var qualityHeight = regexp.MustCompile(`^(\d{3,4})p$`)

// formatSelector строит селектор формата yt-dlp по запросу.
func formatSelector(req Request) string {
	if req.ExtractAudio {
		return "bestaudio/best"
	}
	if m := qualityHeight.FindStringSubmatch(req.Quality); m != nil {
		return fmt.Sprintf("best[height<=%s]/best", m[1])
	}
	return "best[filesize<4G]/best"
}

func (e *YtDlp) Download(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	dir := filepath.Dir(req.Dest)
	stem := strings.TrimSuffix(filepath.Base(req.Dest), filepath.Ext(req.Dest))
	// yt-dlp сам выбирает расширение, поэтому пишем во временный
	// шаблон и затем переименовываем главный файл в Dest
	template := filepath.Join(dir, stem+"_%(title)s.%(ext)s")

	args := []string{
		"--no-playlist",
		"--output", template,
		"--format", formatSelector(req),
		"--no-warnings",
		"--newline",
		"--no-check-certificate",
		"--retries", strconv.Itoa(e.maxRetries),
	}
	if req.ExtractAudio {
		args = append(args, "--extract-audio", "--audio-format", "mp3", "--audio-quality", "0")
	}
	args = append(args, req.URL)

	if err := runTool(ctx, "yt-dlp", args, parseYtDlpLine, onProgress); err != nil {
		return nil, err
	}

	return collectYtDlpResult(dir, stem, req)
}

// collectYtDlpResult находит скачанный файл по шаблону stem_* и
// переименовывает его в Dest (сохраняя фактическое расширение).
// При нескольких файлах берётся самый большой.
func collectYtDlpResult(dir, stem string, req Request) (*Result, error) {
	matches, err := filepath.Glob(filepath.Join(dir, stem+"_*"))
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска скачанных файлов: %w", err)
	}

	var best string
	var bestSize int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() > bestSize {
			best, bestSize = m, info.Size()
		}
	}
	if best == "" {
		return nil, fmt.Errorf("yt-dlp не создал ни одного файла")
	}

	// Целевое имя с расширением реального файла
	dest := strings.TrimSuffix(req.Dest, filepath.Ext(req.Dest)) + filepath.Ext(best)
	if best != dest {
		if err := os.Rename(best, dest); err != nil {
			return nil, fmt.Errorf("ошибка переименования %s: %w", best, err)
		}
	}

	// Побочные файлы шаблона (миниатюры, метаданные) подчищаем
	for _, m := range matches {
		if m != best {
			os.Remove(m)
		}
	}

	return statResult(dest)
}

// parseYtDlpLine разбирает строку прогресса yt-dlp:
//
//	[download]  42.3% of 10.00MiB at 1.23MiB/s ETA 00:05
func parseYtDlpLine(line string) (Progress, bool) {
	if !strings.Contains(line, "[download]") || !strings.Contains(line, "%") {
		return Progress{}, false
	}
	for _, part := range strings.Fields(line) {
		if !strings.HasSuffix(part, "%") {
			continue
		}
		percent, err := strconv.ParseFloat(strings.TrimSuffix(part, "%"), 64)
		if err != nil {
			return Progress{}, false
		}
		p := Progress{Percent: percent}
		// Скорость: токен после "at"
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "at" && i+1 < len(fields) {
				p.SpeedBPS = parseSpeed(fields[i+1])
			}
		}
		return p, true
	}
	return Progress{}, false
}

// parseSpeed разбирает скорость вида 1.23MiB/s, 512KiB/s, 100B/s.
// Возвращает 0, если формат не распознан.
func parseSpeed(s string) float64 {
	s = strings.TrimSuffix(s, "/s")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "GiB"):
		mult, s = 1<<30, strings.TrimSuffix(s, "GiB")
	case strings.HasSuffix(s, "MiB"):
		mult, s = 1<<20, strings.TrimSuffix(s, "MiB")
	case strings.HasSuffix(s, "KiB"):
		mult, s = 1<<10, strings.TrimSuffix(s, "KiB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	default:
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * mult
}
