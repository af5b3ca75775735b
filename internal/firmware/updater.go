package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/store"
)

const (
	defaultSchedule      = "0 0 * * *"
	defaultRetryInterval = 10 * time.Second
	defaultTimeout       = 60 * time.Second

	// maxHashSize bounds the .hash response.
	maxHashSize = 1024

	// maxImageSize bounds the firmware image download.
	maxImageSize = 16 << 20

	hashSuffix = ".hash"
	filePerms  = 0o644
	dirPerms   = 0o755
)

// Recorder stores each newly fetched version. *store.FirmwareVersions
// implements it.
type Recorder interface {
	Record(ctx context.Context, v store.FirmwareVersion) error
}

// Publisher announces a new hash. *mqtt.Client implements it.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Logger is the logging interface used by the updater.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options carries the updater's optional collaborators.
type Options struct {
	HTTPClient *http.Client
	Recorder   Recorder
	Publisher  Publisher

	// HashTopic is where Publisher announces new hashes.
	HashTopic string

	// Location is the time zone of the cron schedule. Defaults to local.
	Location *time.Location

	Logger Logger
}

// Updater fetches new firmware and serves the current image.
type Updater struct {
	cfg      config.FirmwareConfig
	imageURL string
	hashURL  string
	opts     Options
	retry    time.Duration
	timeout  time.Duration

	// poll serialises writers.
	poll sync.Mutex

	mu   sync.RWMutex
	hash string
}

// NewUpdater validates cfg and loads any previously downloaded image.
func NewUpdater(cfg config.FirmwareConfig, opts Options) (*Updater, error) {
	if cfg.BaseURL == "" || cfg.Blob == "" || cfg.LocalPath == "" {
		return nil, fmt.Errorf("firmware: base_url, blob and local_path are required")
	}
	imageURL, err := url.JoinPath(cfg.BaseURL, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("firmware: invalid base_url: %w", err)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("firmware: invalid schedule %q: %w", cfg.Schedule, err)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	u := &Updater{
		cfg:      cfg,
		imageURL: imageURL,
		hashURL:  imageURL + hashSuffix,
		opts:     opts,
		retry:    config.Seconds(cfg.RetryInterval),
		timeout:  config.Seconds(cfg.Timeout),
	}
	if u.retry <= 0 {
		u.retry = defaultRetryInterval
	}
	if u.timeout <= 0 {
		u.timeout = defaultTimeout
	}
	u.loadLocal()
	return u, nil
}

// loadLocal restores the hash of a previously downloaded image.
func (u *Updater) loadLocal() {
	if _, err := os.Stat(u.cfg.LocalPath); err != nil {
		return
	}
	data, err := os.ReadFile(u.cfg.LocalPath + hashSuffix)
	if err != nil {
		return
	}
	u.setHash(strings.TrimSpace(string(data)))
}

// Hash returns the hash of the current image, or "" when there is none.
func (u *Updater) Hash() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hash
}

func (u *Updater) setHash(h string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hash = h
}

// Firmware returns the current image.
func (u *Updater) Firmware() ([]byte, error) {
	if u.Hash() == "" {
		return nil, ErrNoFirmware
	}
	data, err := os.ReadFile(u.cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("reading firmware: %w", err)
	}
	return data, nil
}

// Run polls immediately and then on the cron schedule until ctx ends. A
// failed poll is retried after the retry interval.
func (u *Updater) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	c := cron.New(cron.WithLocation(u.opts.Location))
	if _, err := c.AddFunc(u.cfg.Schedule, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("firmware: scheduling poll: %w", err)
	}
	c.Start()
	defer c.Stop()

	for {
		var retry <-chan time.Time
		if _, err := u.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			u.opts.Logger.Warn("firmware poll failed, will retry",
				"error", err, "retry_in", u.retry)
			retry = time.After(u.retry)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
		case <-retry:
		}
	}
}

// Poll checks the published hash and downloads the image when it differs
// from the current one. It reports whether a new image was installed.
func (u *Updater) Poll(ctx context.Context) (bool, error) {
	u.poll.Lock()
	defer u.poll.Unlock()

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	raw, err := u.fetch(ctx, u.hashURL, maxHashSize)
	if err != nil {
		return false, err
	}
	hash := strings.TrimSpace(string(raw))
	if hash == "" {
		return false, ErrEmptyHash
	}
	if hash == u.Hash() {
		return false, nil
	}

	image, err := u.fetch(ctx, u.imageURL, maxImageSize)
	if err != nil {
		return false, err
	}
	if err := u.install(image, hash); err != nil {
		return false, err
	}
	u.setHash(hash)
	u.opts.Logger.Info("new firmware installed", "hash", hash, "bytes", len(image))

	if u.opts.Recorder != nil {
		v := store.FirmwareVersion{Hash: hash, Size: len(image), Source: u.imageURL}
		if err := u.opts.Recorder.Record(ctx, v); err != nil {
			u.opts.Logger.Warn("recording firmware version", "error", err)
		}
	}
	if u.opts.Publisher != nil && u.opts.HashTopic != "" {
		if err := u.opts.Publisher.PublishRetained(u.opts.HashTopic, []byte(hash)); err != nil {
			u.opts.Logger.Warn("publishing firmware hash", "error", err)
		}
	}
	return true, nil
}

func (u *Updater) fetch(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := u.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFetch, target, err)
	}
	return body, nil
}

// install writes the image then its hash, each via a temp file and rename,
// so a reader never sees a partial image.
func (u *Updater) install(image []byte, hash string) error {
	if err := os.MkdirAll(filepath.Dir(u.cfg.LocalPath), dirPerms); err != nil {
		return fmt.Errorf("creating firmware directory: %w", err)
	}
	if err := writeAtomic(u.cfg.LocalPath, image); err != nil {
		return fmt.Errorf("writing firmware: %w", err)
	}
	if err := writeAtomic(u.cfg.LocalPath+hashSuffix, []byte(hash)); err != nil {
		return fmt.Errorf("writing firmware hash: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerms); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
