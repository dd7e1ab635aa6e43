package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"trigear/internal/config"
)

const (
	closeFlushTimeout = 5 * time.Second
	// maxAppendBlock is the largest block AppendBlock accepts.
	maxAppendBlock = 4 << 20
)

var stderr io.Writer = os.Stderr

// Appender writes one block of JSON lines.
type Appender interface {
	Append(ctx context.Context, block []byte) error
}

type Config struct {
	AccountName string
	AccountKey  string
	Container   string
	BlobName    string        // may contain slashes, e.g. "2026/10/19/host.jsonl"
	FlushEvery  time.Duration // default 2s
	Level       slog.Leveler

	// MaxBlockBytes caps a single appended block; default and ceiling 4 MiB.
	MaxBlockBytes int
}

// FromLogging maps the logging settings onto a sink Config.
func FromLogging(l config.LoggingConfig, level slog.Leveler) Config {
	return Config{
		AccountName: l.SinkAccountName,
		AccountKey:  l.SinkAccountKey,
		Container:   l.SinkContainer,
		BlobName:    l.SinkBlobName,
		FlushEvery:  l.SinkFlushEvery,
		Level:       level,
	}
}

type blobAppender struct {
	client *appendblob.Client
}

func (a *blobAppender) Append(ctx context.Context, block []byte) error {
	_, err := a.client.AppendBlock(ctx, readSeekNopCloser{bytes.NewReader(block)}, nil)
	return err
}

func newBlobAppender(ctx context.Context, cfg Config) (*blobAppender, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	// BlobName may include slashes; only the container is escaped.
	blobURL := "https://" + cfg.AccountName + ".blob.core.windows.net/" +
		url.PathEscape(cfg.Container) + "/" + cfg.BlobName

	client, err := appendblob.NewClientWithSharedKeyCredential(blobURL, cred, nil)
	if err != nil {
		return nil, err
	}
	if _, err := client.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
		return nil, err
	}
	return &blobAppender{client: client}, nil
}

// Handler is a slog.Handler that batches JSON lines and appends them to a
// blob every FlushEvery.
type Handler struct {
	core  *core
	attrs []slog.Attr
	group string
}

type core struct {
	appender Appender
	level    slog.Leveler
	maxBlock int
	ch       chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ticker   *time.Ticker
	once     sync.Once
}

// New connects to the append blob, creating it if needed.
func New(ctx context.Context, cfg Config) (*Handler, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" || cfg.Container == "" {
		return nil, errors.New("AccountName, AccountKey and Container are required")
	}
	if cfg.BlobName == "" {
		cfg.BlobName = DefaultBlobName(time.Now())
	}
	appender, err := newBlobAppender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithAppender(ctx, cfg, appender), nil
}

func NewWithAppender(ctx context.Context, cfg Config, appender Appender) *Handler {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	if cfg.MaxBlockBytes <= 0 || cfg.MaxBlockBytes > maxAppendBlock {
		cfg.MaxBlockBytes = maxAppendBlock
	}
	level := cfg.Level
	if level == nil {
		level = slog.LevelInfo
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &core{
		appender: appender,
		level:    level,
		maxBlock: cfg.MaxBlockBytes,
		ch:       make(chan []byte, 1024),
		ctx:      ctx,
		cancel:   cancel,
		ticker:   time.NewTicker(cfg.FlushEvery),
	}
	c.wg.Add(1)
	go c.loop()
	return &Handler{core: c}
}

// Close flushes buffered lines and stops the background writer.
func (h *Handler) Close() error {
	h.core.once.Do(func() {
		h.core.cancel()
		h.core.wg.Wait()
		h.core.ticker.Stop()
	})
	return nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ev := make(map[string]any, r.NumAttrs()+len(h.attrs)+3)
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ev["ts"] = ts.UTC().Format(time.RFC3339Nano)
	ev["level"] = r.Level.String()
	ev["msg"] = r.Message

	for _, a := range h.attrs {
		addAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(ev, h.group, a)
		return true
	})

	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}

	if err := h.core.ctx.Err(); err != nil {
		return err
	}
	select {
	case h.core.ch <- b.Bytes():
		return nil
	case <-h.core.ctx.Done():
		return h.core.ctx.Err()
	}
}

func addAttr(ev map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() != slog.KindGroup {
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		ev[key] = v
		return
	}
	if a.Key == "" {
		key = prefix
	}
	for _, ga := range a.Value.Group() {
		addAttr(ev, key, ga)
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	grouped := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	grouped = append(grouped, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a = slog.Attr{Key: h.group, Value: slog.GroupValue(a)}
		}
		grouped = append(grouped, a)
	}
	return &Handler{core: h.core, attrs: grouped, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{core: h.core, attrs: h.attrs, group: group}
}

func (c *core) loop() {
	defer c.wg.Done()
	var buf []byte
	flush := func(ctx context.Context) {
		for _, block := range chunks(buf, c.maxBlock) {
			if err := c.appender.Append(ctx, block); err != nil {
				// The sink cannot log through itself.
				_, _ = io.WriteString(stderr, "logsink: append failed: "+err.Error()+"\n")
			}
		}
		buf = nil
	}

	for {
		select {
		case <-c.ctx.Done():
			buf = drain(c.ch, buf)
			ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
			flush(ctx)
			cancel()
			return
		case line := <-c.ch:
			buf = append(buf, line...)
			if len(buf) >= c.maxBlock {
				flush(c.ctx)
			}
		case <-c.ticker.C:
			flush(c.ctx)
		}
	}
}

func drain(ch <-chan []byte, buf []byte) []byte {
	for {
		select {
		case line := <-ch:
			buf = append(buf, line...)
		default:
			return buf
		}
	}
}

// chunks splits buf into blocks of at most limit bytes, cutting after the last
// newline that fits. A single line longer than limit is cut at limit.
func chunks(buf []byte, limit int) [][]byte {
	var out [][]byte
	for len(buf) > limit {
		n := bytes.LastIndexByte(buf[:limit], '\n') + 1
		if n == 0 {
			n = limit
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	if len(buf) > 0 {
		out = append(out, buf)
	}
	return out
}

type readSeekNopCloser struct{ io.ReadSeeker }

func (r readSeekNopCloser) Close() error { return nil }
