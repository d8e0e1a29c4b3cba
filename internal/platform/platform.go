// Пакет platform — определение платформы по URL и типа файла по расширению.
// Результаты определения платформы кэшируются в LRU с TTL:
// повторные запросы одного URL не парсят его заново.
package platform

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PlatformDirect — платформа для прямых ссылок на файлы.
const PlatformDirect = "direct"

// Prometheus-метрики кэша платформ.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_platform_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш определения платформы.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_platform_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша определения платформы.",
	})
)

// domains — соответствие доменов платформам.
// Сравнение идёт по суффиксу хоста, так что m.youtube.com и
// music.youtube.com покрываются записью youtube.com.
var domains = map[string]string{
	"youtube.com":      "youtube",
	"youtu.be":         "youtube",
	"instagram.com":    "instagram",
	"instagr.am":       "instagram",
	"ig.me":            "instagram",
	"open.spotify.com": "spotify",
	"spotify.com":      "spotify",
	"pinterest.com":    "pinterest",
	"pin.it":           "pinterest",
	"twitter.com":      "twitter",
	"x.com":            "twitter",
	"t.co":             "twitter",
	"tiktok.com":       "tiktok",
	"vm.tiktok.com":    "tiktok",
	"soundcloud.com":   "soundcloud",
}

// kindByExt — соответствие расширений файлов их типу для выбора
// метода публикации (sendVideo/sendAudio/sendPhoto/sendDocument).
var kindByExt = map[string]string{
	".mp4": "video", ".avi": "video", ".mkv": "video",
	".mov": "video", ".webm": "video", ".flv": "video",

	".mp3": "audio", ".wav": "audio", ".flac": "audio",
	".aac": "audio", ".ogg": "audio", ".m4a": "audio",

	".jpg": "image", ".jpeg": "image", ".png": "image",
	".gif": "image", ".webp": "image", ".bmp": "image",
}

// Detector определяет платформу по URL с кэшированием результата.
type Detector struct {
	cache *expirable.LRU[string, string]
}

// NewDetector создаёт детектор с LRU-кэшем указанного размера и TTL.
func NewDetector(cacheSize int, ttl time.Duration) *Detector {
	return &Detector{
		cache: expirable.NewLRU[string, string](cacheSize, nil, ttl),
	}
}

// Detect возвращает идентификатор платформы для URL или "direct",
// если домен неизвестен либо URL не парсится.
func (d *Detector) Detect(rawURL string) string {
	if p, ok := d.cache.Get(rawURL); ok {
		cacheHitsTotal.Inc()
		return p
	}
	cacheMissesTotal.Inc()

	p := detect(rawURL)
	d.cache.Add(rawURL, p)
	return p
}

func detect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return PlatformDirect
	}

	host := strings.ToLower(u.Hostname())
	for domain, p := range domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return p
		}
	}
	return PlatformDirect
}

// FileKind возвращает тип файла по расширению: video, audio, image
// или document для всего остального.
func FileKind(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := kindByExt[ext]; ok {
		return kind
	}
	return "document"
}
