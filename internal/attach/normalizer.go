package attach

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/time/rate"

	"geminichat/internal/chat"
)

// 附件归一化的终止错误 / terminal normalization errors
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
)

// FetchError 表示 URL 抓取失败；对调用方可恢复：丢弃该附件，回合继续。
// FetchError reports a failed URL fetch. It is recoverable for the caller:
// the attachment is dropped and the turn proceeds without it.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Limits 上传限制，取值沿用桌面端的文件上传约束
// Limits bounds what a single turn may attach
type Limits struct {
	MaxFileBytes  int64         // per-payload cap
	MaxTotalBytes int64         // combined cap per turn
	MaxFileCount  int           // payloads per turn
	FetchTimeout  time.Duration // per-URL fetch budget
}

// DefaultLimits returns the standard attachment budget.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:  50 << 20,
		MaxTotalBytes: 200 << 20,
		MaxFileCount:  100,
		FetchTimeout:  30 * time.Second,
	}
}

// supportedFormats maps accepted media types to their part kind. The set
// mirrors what the Gemini API accepts for inline multimodal input.
var supportedFormats = map[string]chat.PartKind{
	// documents
	"application/pdf": chat.PartDocument,
	"text/plain":      chat.PartDocument,
	"text/markdown":   chat.PartDocument,
	"text/html":       chat.PartDocument,
	"application/xml": chat.PartDocument,
	"text/xml":        chat.PartDocument,

	// images
	"image/png":  chat.PartImage,
	"image/jpeg": chat.PartImage,
	"image/webp": chat.PartImage,
	"image/heic": chat.PartImage,
	"image/heif": chat.PartImage,
	"image/gif":  chat.PartImage,

	// video
	"video/mp4":       chat.PartVideo,
	"video/mpeg":      chat.PartVideo,
	"video/mov":       chat.PartVideo,
	"video/quicktime": chat.PartVideo,
	"video/avi":       chat.PartVideo,
	"video/x-flv":     chat.PartVideo,
	"video/mpg":       chat.PartVideo,
	"video/webm":      chat.PartVideo,
	"video/wmv":       chat.PartVideo,
	"video/3gpp":      chat.PartVideo,

	// audio
	"audio/wav":   chat.PartAudio,
	"audio/x-wav": chat.PartAudio,
	"audio/mp3":   chat.PartAudio,
	"audio/mpeg":  chat.PartAudio,
	"audio/aiff":  chat.PartAudio,
	"audio/aac":   chat.PartAudio,
	"audio/ogg":   chat.PartAudio,
	"audio/flac":  chat.PartAudio,
}

// Rejection 记录一个被丢弃的附件及原因
// Rejection records one dropped attachment and why
type Rejection struct {
	Source string
	Err    error
}

// Normalizer 将本地文件或 URL 转换为模型可消费的 Part。
// 载荷以内容寻址方式落盘，Part 仅保存引用，保证会话记录可无损往返。
// Normalizer converts user-supplied files and URLs into model-consumable
// Parts. Payloads are stored content-addressed under the uploads dir; a Part
// carries only the reference, so persisted sessions round-trip losslessly.
type Normalizer struct {
	uploadsDir string
	limits     Limits
	client     *http.Client
	limiter    *rate.Limiter
}

// NewNormalizer creates a normalizer writing payloads below uploadsDir.
func NewNormalizer(uploadsDir string, limits Limits) (*Normalizer, error) {
	uploadsDir = strings.TrimSpace(uploadsDir)
	if uploadsDir == "" {
		return nil, errors.New("uploads dir is empty")
	}
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if limits.MaxFileBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Normalizer{
		uploadsDir: uploadsDir,
		limits:     limits,
		client:     &http.Client{Timeout: limits.FetchTimeout},
		// One fetch per second with a small burst keeps URL collection polite.
		limiter: rate.NewLimiter(rate.Limit(1), 4),
	}, nil
}

// Limits returns the active attachment budget.
func (n *Normalizer) Limits() Limits { return n.limits }

// Normalize converts one source (local path or http(s) URL) into a Part.
// declared, when non-empty, must match the detected media type or the part
// is rejected before it can reach the model client. Single attempt, no retry.
func (n *Normalizer) Normalize(ctx context.Context, source, declared string) (chat.Part, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return chat.Part{}, fmt.Errorf("%w: empty source", ErrUnsupportedMediaType)
	}
	if isURL(source) {
		return n.normalizeURL(ctx, source, declared)
	}
	return n.normalizeFile(source, declared)
}

// NormalizeAll normalizes a batch of sources, enforcing the per-turn count
// and total-size budgets. Failed sources are reported as rejections; the
// surviving parts are returned in input order.
func (n *Normalizer) NormalizeAll(ctx context.Context, sources []string) ([]chat.Part, []Rejection) {
	var (
		parts      []chat.Part
		rejections []Rejection
		total      int64
	)
	for i, source := range sources {
		if i >= n.limits.MaxFileCount {
			rejections = append(rejections, Rejection{Source: source, Err: fmt.Errorf("%w: more than %d attachments", ErrPayloadTooLarge, n.limits.MaxFileCount)})
			continue
		}
		part, err := n.Normalize(ctx, source, "")
		if err != nil {
			rejections = append(rejections, Rejection{Source: source, Err: err})
			continue
		}
		if total+part.SizeBytes > n.limits.MaxTotalBytes {
			rejections = append(rejections, Rejection{Source: source, Err: fmt.Errorf("%w: combined size exceeds %d bytes", ErrPayloadTooLarge, n.limits.MaxTotalBytes)})
			continue
		}
		total += part.SizeBytes
		parts = append(parts, part)
	}
	return parts, rejections
}

func (n *Normalizer) normalizeFile(source, declared string) (chat.Part, error) {
	info, err := os.Stat(source)
	if err != nil {
		return chat.Part{}, fmt.Errorf("%w: %v", ErrUnsupportedMediaType, err)
	}
	if info.IsDir() {
		return chat.Part{}, fmt.Errorf("%w: %s is a directory", ErrUnsupportedMediaType, source)
	}
	if info.Size() > n.limits.MaxFileBytes {
		return chat.Part{}, fmt.Errorf("%w: %s is %d bytes (cap %d)", ErrPayloadTooLarge, source, info.Size(), n.limits.MaxFileBytes)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return chat.Part{}, fmt.Errorf("%w: %v", ErrUnsupportedMediaType, err)
	}

	mediaType := detectMediaType(filepath.Ext(source), data)
	return n.buildPart(source, filepath.Base(source), mediaType, declared, data)
}

func (n *Normalizer) normalizeURL(ctx context.Context, source, declared string) (chat.Part, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return chat.Part{}, &FetchError{URL: source, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, n.limits.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return chat.Part{}, &FetchError{URL: source, Err: err}
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return chat.Part{}, &FetchError{URL: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return chat.Part{}, &FetchError{URL: source, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	// Read at most one byte past the cap so oversize is distinguishable from
	// exactly-at-cap.
	data, err := io.ReadAll(io.LimitReader(resp.Body, n.limits.MaxFileBytes+1))
	if err != nil {
		return chat.Part{}, &FetchError{URL: source, Err: err}
	}
	if int64(len(data)) > n.limits.MaxFileBytes {
		return chat.Part{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrPayloadTooLarge, source, n.limits.MaxFileBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" {
		u, _ := url.Parse(source)
		ext := ""
		if u != nil {
			ext = path.Ext(u.Path)
		}
		mediaType = detectMediaType(ext, data)
	}

	name := urlDisplayName(source)
	if mediaType == "text/html" {
		if title := htmlTitle(data); title != "" {
			name = title
		}
	}
	return n.buildPart(source, name, mediaType, declared, data)
}

func (n *Normalizer) buildPart(source, name, mediaType, declared string, data []byte) (chat.Part, error) {
	kind, ok := supportedFormats[mediaType]
	if !ok {
		return chat.Part{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedMediaType, mediaType, source)
	}
	if declared != "" && !strings.EqualFold(declared, mediaType) {
		return chat.Part{}, fmt.Errorf("%w: declared %s but detected %s", ErrUnsupportedMediaType, declared, mediaType)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	payloadPath := filepath.Join(n.uploadsDir, digest+extensionFor(source, mediaType))
	if _, err := os.Stat(payloadPath); err != nil {
		if err := atomic.WriteFile(payloadPath, bytes.NewReader(data)); err != nil {
			return chat.Part{}, fmt.Errorf("store payload: %w", err)
		}
	}

	return chat.Part{
		Kind:        kind,
		Source:      source,
		Name:        name,
		MIMEType:    mediaType,
		SizeBytes:   int64(len(data)),
		SHA256:      digest,
		PayloadPath: payloadPath,
	}, nil
}

// detectMediaType resolves a media type from the file extension, falling
// back to content sniffing when the extension is unknown.
func detectMediaType(ext string, data []byte) string {
	if ext != "" {
		if byExt := mime.TypeByExtension(strings.ToLower(ext)); byExt != "" {
			mediaType, _, _ := mime.ParseMediaType(byExt)
			if mediaType != "" {
				return mediaType
			}
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}

func extensionFor(source, mediaType string) string {
	if isURL(source) {
		if u, err := url.Parse(source); err == nil {
			if ext := path.Ext(u.Path); ext != "" {
				return strings.ToLower(ext)
			}
		}
	} else if ext := filepath.Ext(source); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func urlDisplayName(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return source
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return u.Host
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}
