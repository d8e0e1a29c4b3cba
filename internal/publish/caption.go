package publish

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// kindEmoji — эмодзи для типа файла в подписи.
var kindEmoji = map[string]string{
	"video":    "🎬",
	"audio":    "🎵",
	"image":    "🖼️",
	"document": "📄",
}

// markdownSpecial — символы, требующие экранирования в MarkdownV2.
const markdownSpecial = "*_`[]()~>#+-=|{}.!"

// EscapeMarkdownV2 экранирует спецсимволы разметки MarkdownV2.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 128 && strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatSize форматирует размер файла в человекочитаемый вид.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTP"[exp])
}

// BuildCaption собирает подпись публикации: имя файла, описание, теги,
// размер, тип и дата. Пользовательский текст экранируется для MarkdownV2.
func BuildCaption(filePath, description, tags, kind string, size int64, now time.Time) string {
	emoji, ok := kindEmoji[kind]
	if !ok {
		emoji = "📁"
	}

	lines := []string{fmt.Sprintf("%s %s", emoji, EscapeMarkdownV2(filepath.Base(filePath)))}

	if d := strings.TrimSpace(description); d != "" {
		lines = append(lines, "📝 "+EscapeMarkdownV2(d))
	}
	if t := strings.TrimSpace(tags); t != "" {
		lines = append(lines, "🏷️ "+EscapeMarkdownV2(t))
	}

	lines = append(lines,
		"📊 Size: "+EscapeMarkdownV2(FormatSize(size)),
		"📂 Type: "+EscapeMarkdownV2(titleCase(kind)),
		"📅 "+EscapeMarkdownV2(now.Format("2006-01-02 15:04:05")),
	)

	return strings.Join(lines, "\n\n")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
