// Пакет storage — операции с файлами загрузок на диске.
// Извлечение имени файла из URL, разрешение конфликтов имён,
// сохранение прямых загрузок и удаление.
package storage

import (
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore — управление файлами в каталогах загрузок.
type FileStore struct {
	// downloadsDir — каталог завершённых загрузок (UPDL_DOWNLOADS_DIR)
	downloadsDir string
	// uploadsDir — каталог прямых загрузок через API (UPDL_UPLOADS_DIR)
	uploadsDir string
}

// New создаёт FileStore. Создаёт каталоги, если они не существуют.
func New(downloadsDir, uploadsDir string) (*FileStore, error) {
	for _, dir := range []string{downloadsDir, uploadsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать каталог %s: %w", dir, err)
		}
	}
	return &FileStore{downloadsDir: downloadsDir, uploadsDir: uploadsDir}, nil
}

// DownloadsDir возвращает каталог завершённых загрузок.
func (fs *FileStore) DownloadsDir() string {
	return fs.downloadsDir
}

// ExtractFilename извлекает имя файла из заголовка Content-Disposition
// или из path-компонента URL. Если имя с расширением извлечь не удалось,
// генерирует download_{timestamp}.bin.
func ExtractFilename(rawURL, contentDisposition string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			name := filepath.Base(params["filename"])
			if name != "." && name != "/" && strings.Contains(name, ".") {
				return name
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		name := filepath.Base(u.Path)
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		name = filepath.Base(name)
		if name != "." && name != "/" && strings.Contains(name, ".") {
			return name
		}
	}

	return fmt.Sprintf("download_%d.bin", time.Now().Unix())
}

// UniquePath возвращает путь в каталоге загрузок, не конфликтующий
// с существующими файлами. При конфликте добавляет суффикс _1, _2, …
// перед расширением.
func (fs *FileStore) UniquePath(filename string) string {
	// Отбрасываем компоненты пути из пользовательского имени
	return fs.uniqueIn(fs.downloadsDir, filepath.Base(filename))
}

// SaveUpload записывает данные прямой загрузки в каталог uploads.
// Паттерн: temp файл → запись → fsync → atomic rename.
// Возвращает абсолютный путь и размер записанного файла.
func (fs *FileStore) SaveUpload(reader io.Reader, filename string) (string, int64, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == "/" || filename == "" {
		return "", 0, fmt.Errorf("некорректное имя файла %q", filename)
	}

	fullPath := fs.uniqueIn(fs.uploadsDir, filename)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return fullPath, size, nil
}

// Remove удаляет файл с диска. Отсутствие файла ошибкой не считается.
func (fs *FileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// RemoveArtifacts удаляет целевой файл и побочные файлы инструментов
// рядом с ним: yt-dlp пишет во временный шаблон stem_<title>.<ext>
// и оставляет .part при обрыве. Отсутствие файлов ошибкой не считается.
func (fs *FileStore) RemoveArtifacts(dest string) error {
	if dest == "" {
		return nil
	}
	if err := fs.Remove(dest); err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(dest), stem+"_*"))
	if err != nil {
		return fmt.Errorf("ошибка поиска побочных файлов %s: %w", dest, err)
	}

	var lastErr error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			lastErr = fmt.Errorf("ошибка удаления файла %s: %w", m, err)
		}
	}
	return lastErr
}

// Exists проверяет наличие файла на диске.
func (fs *FileStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Size возвращает размер файла в байтах.
func (fs *FileStore) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("ошибка stat файла %s: %w", path, err)
	}
	return info.Size(), nil
}

// CheckReady проверяет доступность каталогов хранения для readiness probe.
// Недоступный каталог downloads — fail, каталог uploads — degraded
// (обычные загрузки продолжают работать).
func (fs *FileStore) CheckReady() (status, message string) {
	if err := checkDir(fs.downloadsDir); err != nil {
		return "fail", err.Error()
	}
	if err := checkDir(fs.uploadsDir); err != nil {
		return "degraded", err.Error()
	}
	return "ok", ""
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("каталог %s недоступен: %v", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является каталогом", dir)
	}
	return nil
}

func (fs *FileStore) uniqueIn(dir, filename string) string {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}
