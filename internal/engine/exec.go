package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// userAgent — единый User-Agent для всех движков.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// errTailLines — сколько последних строк вывода попадает в текст ошибки.
const errTailLines = 10

// lineParser разбирает одну строку вывода инструмента.
// Возвращает (прогресс, true), если строка содержит данные прогресса.
type lineParser func(line string) (Progress, bool)

// toolAvailable проверяет наличие бинарника в PATH.
func toolAvailable(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// runTool запускает внешний инструмент и построчно разбирает его вывод
// (stdout и stderr объединяются). Каждая строка с прогрессом передаётся
// в onProgress, но не чаще раза в секунду. При ненулевом коде возврата
// ошибка содержит хвост вывода инструмента.
//
// Отмена контекста убивает всю группу процессов инструмента: дочерний
// ffmpeg (yt-dlp) иначе переживает kill, держит write-конец pipe и
// чтение вывода не завершается.
func runTool(ctx context.Context, binary string, args []string, parser lineParser, onProgress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("ошибка создания pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("ошибка запуска %s: %w", binary, err)
	}
	// Writer-конец остаётся только у дочернего процесса
	pw.Close()

	var (
		mu   sync.Mutex
		tail []string
	)

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lastEmit := time.Time{}
	for scanner.Scan() {
		line := scanner.Text()

		mu.Lock()
		tail = append(tail, line)
		if len(tail) > errTailLines {
			tail = tail[1:]
		}
		mu.Unlock()

		if parser == nil || onProgress == nil {
			continue
		}
		if p, ok := parser(line); ok {
			if time.Since(lastEmit) >= time.Second {
				onProgress(p)
				lastEmit = time.Now()
			}
		}
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		mu.Lock()
		out := strings.Join(tail, "\n")
		mu.Unlock()
		return fmt.Errorf("%s завершился с ошибкой: %w: %s", binary, err, out)
	}
	return nil
}

// statResult формирует Result по готовому файлу на диске.
func statResult(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("файл не создан: %w", err)
	}
	return &Result{FilePath: path, Size: info.Size()}, nil
}
