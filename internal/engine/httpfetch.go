package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// httpChunkSize — размер блока чтения встроенного HTTP-движка.
const httpChunkSize = 256 << 10

// HTTPFetch — встроенный HTTP-движок: не требует внешних инструментов,
// докачивает частичные файлы через заголовок Range.
type HTTPFetch struct {
	client *http.Client
}

// NewHTTPFetch создаёт встроенный HTTP-движок.
func NewHTTPFetch() *HTTPFetch {
	transport := &http.Transport{
		// Внешние движки тоже качают без проверки сертификата,
		// поведение должно совпадать
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &HTTPFetch{
		client: &http.Client{Transport: transport},
	}
}

func (e *HTTPFetch) Name() string    { return "http" }
func (e *HTTPFetch) Resumable() bool { return true }

// Available: встроенный движок доступен всегда.
func (e *HTTPFetch) Available() bool { return true }

func (e *HTTPFetch) CanHandle(url string) bool {
	return isHTTPURL(url)
}

func (e *HTTPFetch) Download(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	// Докачка: если частичный файл уже есть, продолжаем с его конца
	var resumeFrom int64
	if info, err := os.Stat(req.Dest); err == nil {
		resumeFrom = info.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("некорректный запрос: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "*/*")
	if resumeFrom > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка HTTP-запроса: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Сервер не поддерживает Range — начинаем с нуля
		resumeFrom = 0
	case http.StatusPartialContent:
		// Докачка принята
	default:
		return nil, fmt.Errorf("HTTP-статус %d", resp.StatusCode)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 {
		totalSize += resumeFrom
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(req.Dest, flags, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer f.Close()

	if err := e.copyWithProgress(ctx, f, resp.Body, resumeFrom, totalSize, onProgress); err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	return statResult(req.Dest)
}

// copyWithProgress копирует тело ответа в файл блоками httpChunkSize,
// сообщая прогресс не чаще раза в секунду.
func (e *HTTPFetch) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, resumeFrom, totalSize int64, onProgress ProgressFunc) error {
	buf := make([]byte, httpChunkSize)
	downloaded := resumeFrom
	start := time.Now()
	lastEmit := start

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("ошибка записи: %w", err)
			}
			downloaded += int64(n)
		}

		now := time.Now()
		if onProgress != nil && now.Sub(lastEmit) >= time.Second {
			p := Progress{
				DownloadedBytes: downloaded,
				TotalBytes:      totalSize,
			}
			if elapsed := now.Sub(start).Seconds(); elapsed > 0 {
				p.SpeedBPS = float64(downloaded-resumeFrom) / elapsed
			}
			if totalSize > 0 {
				p.Percent = float64(downloaded) / float64(totalSize) * 100
			}
			onProgress(p)
			lastEmit = now
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("ошибка чтения ответа: %w", readErr)
		}
	}
}

// isHTTPURL проверяет, что URL начинается с http:// или https://.
func isHTTPURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
