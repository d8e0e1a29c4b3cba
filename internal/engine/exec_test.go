package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestRunTool_CancelKillsChildProcesses проверяет, что отмена контекста
// убивает и дочерние процессы инструмента: фоновый sleep наследует
// write-конец pipe, и без убийства группы чтение вывода висело бы
// до его завершения.
func TestRunTool_CancelKillsChildProcesses(t *testing.T) {
	if !toolAvailable("sh") {
		t.Skip("sh недоступен в PATH")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := runTool(ctx, "sh", []string{"-c", "sleep 30 & sleep 30"}, nil, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидалась context.DeadlineExceeded, получена %v", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("отмена должна завершаться быстро, заняло %v", elapsed)
	}
}

// TestRunTool_ErrorTail проверяет, что текст ошибки содержит хвост
// вывода инструмента.
func TestRunTool_ErrorTail(t *testing.T) {
	if !toolAvailable("sh") {
		t.Skip("sh недоступен в PATH")
	}

	err := runTool(context.Background(), "sh",
		[]string{"-c", "echo причина сбоя; exit 3"}, nil, nil)
	if err == nil {
		t.Fatal("ожидалась ошибка при ненулевом коде возврата")
	}
	if !strings.Contains(err.Error(), "причина сбоя") {
		t.Errorf("текст ошибки должен содержать вывод инструмента: %v", err)
	}
}
