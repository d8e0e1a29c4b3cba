package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestHTTPFetch_Download проверяет базовую загрузку встроенным движком.
func TestHTTPFetch_Download(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1024)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	e := NewHTTPFetch()

	res, err := e.Download(context.Background(), Request{URL: srv.URL, Dest: dest}, nil)
	if err != nil {
		t.Fatalf("Download(): неожиданная ошибка: %v", err)
	}

	if res.Size != int64(len(payload)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(payload), res.Size)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("не удалось прочитать файл: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("содержимое файла не совпадает с ответом сервера")
	}
}

// TestHTTPFetch_Resume проверяет докачку через заголовок Range.
func TestHTTPFetch_Resume(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 2048)

	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if !strings.HasPrefix(gotRange, "bytes=") {
			t.Errorf("ожидался заголовок Range, получен %q", gotRange)
			http.Error(w, "no range", http.StatusBadRequest)
			return
		}
		var from int
		fmt.Sscanf(gotRange, "bytes=%d-", &from)
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)-from))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[from:])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	// Имитируем частично скачанный файл
	if err := os.WriteFile(dest, payload[:5000], 0o640); err != nil {
		t.Fatalf("не удалось создать частичный файл: %v", err)
	}

	e := NewHTTPFetch()
	res, err := e.Download(context.Background(), Request{URL: srv.URL, Dest: dest}, nil)
	if err != nil {
		t.Fatalf("Download(): неожиданная ошибка: %v", err)
	}

	if gotRange != "bytes=5000-" {
		t.Errorf("Range: ожидалось bytes=5000-, получено %q", gotRange)
	}
	if res.Size != int64(len(payload)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(payload), res.Size)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Error("докачанный файл не совпадает с полным содержимым")
	}
}

// TestHTTPFetch_RestartWhenRangeUnsupported проверяет перезапуск с нуля,
// если сервер игнорирует Range.
func TestHTTPFetch_RestartWhenRangeUnsupported(t *testing.T) {
	payload := []byte("полное содержимое файла без докачки")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Сервер отвечает 200 даже на Range-запрос
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(dest, []byte("старый мусор"), 0o640); err != nil {
		t.Fatalf("не удалось создать частичный файл: %v", err)
	}

	e := NewHTTPFetch()
	if _, err := e.Download(context.Background(), Request{URL: srv.URL, Dest: dest}, nil); err != nil {
		t.Fatalf("Download(): неожиданная ошибка: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Error("файл должен быть перезаписан с нуля при ответе 200")
	}
}

// TestHTTPFetch_ErrorStatus проверяет обработку ошибочных HTTP-статусов.
func TestHTTPFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	e := NewHTTPFetch()

	if _, err := e.Download(context.Background(), Request{URL: srv.URL, Dest: dest}, nil); err == nil {
		t.Error("Download() при статусе 404 должен вернуть ошибку")
	}
}

// TestHTTPFetch_ContextCancel проверяет прерывание загрузки по контексту.
func TestHTTPFetch_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	e := NewHTTPFetch()

	if _, err := e.Download(ctx, Request{URL: srv.URL, Dest: dest}, nil); err == nil {
		t.Error("Download() с отменённым контекстом должен вернуть ошибку")
	}
}

// TestHTTPFetch_CanHandle проверяет фильтрацию схем URL.
func TestHTTPFetch_CanHandle(t *testing.T) {
	e := NewHTTPFetch()

	if !e.CanHandle("https://example.com/f.bin") {
		t.Error("https URL должен обрабатываться")
	}
	if !e.CanHandle("http://example.com/f.bin") {
		t.Error("http URL должен обрабатываться")
	}
	if e.CanHandle("ftp://example.com/f.bin") {
		t.Error("ftp URL не должен обрабатываться")
	}
	if e.CanHandle("magnet:?xt=urn:btih:abc") {
		t.Error("magnet URL не должен обрабатываться")
	}
}
