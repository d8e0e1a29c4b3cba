package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hexday/updl/internal/config"
)

// Пороги выбора метода отправки (ограничения Bot API).
const (
	maxVideoSize = 50 << 20
	maxPhotoSize = 10 << 20
)

// apiResponse — обёртка ответа Bot API.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// apiFile — описание файла в сообщении.
type apiFile struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
}

// apiMessage — сообщение Bot API (только нужные поля).
type apiMessage struct {
	MessageID int64     `json:"message_id"`
	Document  *apiFile  `json:"document"`
	Video     *apiFile  `json:"video"`
	Audio     *apiFile  `json:"audio"`
	Photo     []apiFile `json:"photo"`
}

// Telegram — клиент Bot API для публикации файлов в канал.
type Telegram struct {
	token      string
	channelID  string
	baseURL    string
	strategies []config.UploadStrategy
	client     *http.Client
	logger     *slog.Logger

	// botUsername кэшируется после первого getMe
	mu          sync.Mutex
	botUsername string
}

// NewTelegram создаёт клиент Bot API.
// strategies должны быть отсортированы по возрастанию MaxFileSize.
func NewTelegram(cfg *config.Config, logger *slog.Logger) *Telegram {
	return &Telegram{
		token:      cfg.TelegramToken,
		channelID:  cfg.TelegramChannelID,
		baseURL:    strings.TrimSuffix(cfg.TelegramAPIBaseURL, "/"),
		strategies: cfg.UploadStrategies,
		client:     &http.Client{},
		logger:     logger.With(slog.String("component", "telegram")),
	}
}

// strategyFor выбирает стратегию по размеру файла: первый бакет,
// вмещающий размер; файлы больше последнего бакета не публикуются.
func (t *Telegram) strategyFor(size int64) (config.UploadStrategy, error) {
	for _, s := range t.strategies {
		if size <= s.MaxFileSize {
			return s, nil
		}
	}
	return config.UploadStrategy{}, fmt.Errorf("файл размером %s превышает максимальный бакет публикации", FormatSize(size))
}

// methodFor выбирает метод Bot API по типу и размеру файла.
// Слишком большие видео и изображения уходят как документ.
func methodFor(kind string, size int64) (method, field string) {
	switch {
	case kind == "video" && size < maxVideoSize:
		return "sendVideo", "video"
	case kind == "audio":
		return "sendAudio", "audio"
	case kind == "image" && size < maxPhotoSize:
		return "sendPhoto", "photo"
	default:
		return "sendDocument", "document"
	}
}

// Publish выполняет одну попытку отправки файла в канал.
// Ошибки классифицируются: RateLimitedError, TimeoutError,
// NetworkError, MalformedError.
func (t *Telegram) Publish(ctx context.Context, req Request) (*Ref, error) {
	strategy, err := t.strategyFor(req.Size)
	if err != nil {
		return nil, err
	}

	method, field := methodFor(req.Kind, req.Size)
	if req.Plain {
		// Plain-fallback всегда идёт документом, как и при ошибке разметки
		method, field = "sendDocument", "document"
	}

	ctx, cancel := context.WithTimeout(ctx, strategy.Timeout)
	defer cancel()

	t.logger.Info("отправка файла в канал",
		slog.String("file", filepath.Base(req.FilePath)),
		slog.String("method", method),
		slog.String("strategy", strategy.Name),
		slog.Int64("size", req.Size),
	)

	msg, err := t.send(ctx, method, field, strategy.ChunkSize, req)
	if err != nil {
		return nil, err
	}

	ref := &Ref{MessageID: msg.MessageID}
	switch {
	case msg.Document != nil:
		ref.FileID, ref.FileUniqueID = msg.Document.FileID, msg.Document.FileUniqueID
	case msg.Video != nil:
		ref.FileID, ref.FileUniqueID = msg.Video.FileID, msg.Video.FileUniqueID
	case msg.Audio != nil:
		ref.FileID, ref.FileUniqueID = msg.Audio.FileID, msg.Audio.FileUniqueID
	case len(msg.Photo) > 0:
		// Последний элемент — наибольшее разрешение
		last := msg.Photo[len(msg.Photo)-1]
		ref.FileID, ref.FileUniqueID = last.FileID, last.FileUniqueID
	}

	if username, err := t.username(ctx); err == nil && username != "" {
		ref.ShareLink = fmt.Sprintf("https://t.me/%s?start=file_%d", username, msg.MessageID)
	}

	return ref, nil
}

// send выполняет multipart-запрос к Bot API, стримя файл через io.Pipe.
func (t *Telegram) send(ctx context.Context, method, field string, chunkSize int64, req Request) (*apiMessage, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()

		fields := map[string]string{
			"chat_id": t.channelID,
			"caption": req.Caption,
		}
		if !req.Plain {
			fields["parse_mode"] = "MarkdownV2"
		}
		if field == "video" {
			fields["supports_streaming"] = "true"
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		part, err := mw.CreateFormFile(field, filepath.Base(req.FilePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.CopyBuffer(part, f, make([]byte, chunkSize)); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("некорректный запрос: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Cause: err}
		}
		return nil, &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// decodeResponse разбирает ответ Bot API и классифицирует ошибки.
func decodeResponse(resp *http.Response) (*apiMessage, error) {
	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, &NetworkError{Cause: fmt.Errorf("некорректный ответ Bot API: %w", err)}
	}

	if !api.OK {
		switch {
		case api.ErrorCode == http.StatusTooManyRequests:
			retryAfter := time.Second
			if api.Parameters != nil && api.Parameters.RetryAfter > 0 {
				retryAfter = time.Duration(api.Parameters.RetryAfter) * time.Second
			}
			return nil, &RateLimitedError{RetryAfter: retryAfter}
		case api.ErrorCode == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(api.Description), "can't parse entities"):
			return nil, &MalformedError{Description: api.Description}
		default:
			return nil, fmt.Errorf("Bot API отклонил запрос (код %d): %s", api.ErrorCode, api.Description)
		}
	}

	var msg apiMessage
	if err := json.Unmarshal(api.Result, &msg); err != nil {
		return nil, &NetworkError{Cause: fmt.Errorf("некорректный result Bot API: %w", err)}
	}
	return &msg, nil
}

// username возвращает имя бота, кэшируя результат getMe.
func (t *Telegram) username(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.botUsername != "" {
		return t.botUsername, nil
	}

	url := fmt.Sprintf("%s/bot%s/getMe", t.baseURL, t.token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var api struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return "", err
	}
	if !api.OK {
		return "", fmt.Errorf("getMe отклонён Bot API")
	}

	t.botUsername = api.Result.Username
	return t.botUsername, nil
}
