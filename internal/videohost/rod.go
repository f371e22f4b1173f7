package videohost

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
)

var errNothingLoaded = errors.New("videohost: nothing loaded")

// RodHost drives the embed page's <video> element in a headless browser.
// It is registered like any other player and lets video tracks play on
// deployments with no browser client attached.
type RodHost struct {
	pageURL  string // template with one %s slot for the video id
	headless bool
	log      zerolog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	videoID  string
}

// NewRodHost creates a host for the given embed page URL template. The
// browser is launched lazily on the first Load.
func NewRodHost(pageURL string, headless bool, logger zerolog.Logger) *RodHost {
	return &RodHost{
		pageURL:  pageURL,
		headless: headless,
		log:      logger.With().Str("component", "videohost").Str("player", "rod").Logger(),
	}
}

// Load navigates the embed page to the video and waits for its <video>
// element to appear.
func (h *RodHost) Load(ctx context.Context, videoID, title string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureBrowserLocked(); err != nil {
		return err
	}

	target := fmt.Sprintf(h.pageURL, url.QueryEscape(videoID))
	if h.page == nil {
		page, err := h.browser.Page(proto.TargetCreateTarget{URL: target})
		if err != nil {
			return fmt.Errorf("open embed page: %w", err)
		}
		h.page = page
	} else if err := h.page.Context(ctx).Navigate(target); err != nil {
		return fmt.Errorf("navigate embed page: %w", err)
	}

	if err := h.page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("wait embed page load: %w", err)
	}
	// Blocks until the element exists or ctx expires.
	if _, err := h.page.Context(ctx).Element("video"); err != nil {
		return fmt.Errorf("wait embed video element: %w", err)
	}

	h.videoID = videoID
	h.log.Info().Str("video_id", videoID).Str("title", title).Msg("embed page loaded")
	return nil
}

func (h *RodHost) ensureBrowserLocked() error {
	if h.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(h.headless).
		Set("autoplay-policy", "no-user-gesture-required").
		Set("mute-audio", "false")
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connect browser: %w", err)
	}

	h.launcher = l
	h.browser = browser
	h.log.Debug().Bool("headless", h.headless).Msg("browser launched")
	return nil
}

func (h *RodHost) Play(ctx context.Context) error {
	ok, err := h.evalBool(ctx, `() => {
		const v = document.querySelector('video');
		if (!v) return false;
		v.play().catch(() => {});
		return true;
	}`)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("videohost: embed page has no video element")
	}
	return nil
}

func (h *RodHost) Pause(ctx context.Context) error {
	ok, err := h.evalBool(ctx, `() => {
		const v = document.querySelector('video');
		if (!v) return false;
		v.pause();
		return true;
	}`)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("videohost: embed page has no video element")
	}
	return nil
}

func (h *RodHost) Stop(ctx context.Context) error {
	ok, err := h.evalBool(ctx, `() => {
		const v = document.querySelector('video');
		if (!v) return false;
		v.pause();
		v.currentTime = 0;
		return true;
	}`)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("videohost: embed page has no video element")
	}
	return nil
}

func (h *RodHost) SeekMs(ctx context.Context, positionMs int64) error {
	if positionMs < 0 {
		positionMs = 0
	}
	_, err := h.eval(ctx, `(ms) => {
		const v = document.querySelector('video');
		if (v) v.currentTime = ms / 1000;
	}`, positionMs)
	return err
}

func (h *RodHost) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	_, err := h.eval(ctx, `(vol) => {
		const v = document.querySelector('video');
		if (!v) return;
		v.volume = vol / 100;
		v.muted = vol === 0;
	}`, volume)
	return err
}

func (h *RodHost) CurrentTimeMs(ctx context.Context) (int64, error) {
	val, err := h.eval(ctx, `() => {
		const v = document.querySelector('video');
		return v ? Math.floor(v.currentTime * 1000) : -1;
	}`)
	if err != nil {
		return 0, err
	}
	ms := int64(val.Num())
	if ms < 0 {
		return 0, errors.New("videohost: embed page has no video element")
	}
	return ms, nil
}

func (h *RodHost) DurationMs(ctx context.Context) (int64, error) {
	val, err := h.eval(ctx, `() => {
		const v = document.querySelector('video');
		if (!v) return -1;
		if (!isFinite(v.duration)) return 0;
		return Math.floor(v.duration * 1000);
	}`)
	if err != nil {
		return 0, err
	}
	ms := int64(val.Num())
	if ms < 0 {
		return 0, errors.New("videohost: embed page has no video element")
	}
	return ms, nil
}

func (h *RodHost) PlayerState(ctx context.Context) (PlayerState, error) {
	h.mu.Lock()
	loaded := h.page != nil
	h.mu.Unlock()
	if !loaded {
		return StateUnstarted, nil
	}

	val, err := h.eval(ctx, `() => {
		const v = document.querySelector('video');
		if (!v) return 'unstarted';
		if (v.ended) return 'ended';
		if (v.paused) return 'paused';
		if (v.readyState < 3) return 'buffering';
		return 'playing';
	}`)
	if err != nil {
		return StateUnstarted, err
	}
	return PlayerState(val.Str()), nil
}

// Close tears down the page, browser, and browser process.
func (h *RodHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	if h.page != nil {
		if err := h.page.Close(); err != nil {
			errs = append(errs, err)
		}
		h.page = nil
	}
	if h.browser != nil {
		if err := h.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		h.browser = nil
	}
	if h.launcher != nil {
		h.launcher.Kill()
		h.launcher = nil
	}
	h.videoID = ""
	return errors.Join(errs...)
}

func (h *RodHost) evalBool(ctx context.Context, js string) (bool, error) {
	val, err := h.eval(ctx, js)
	if err != nil {
		return false, err
	}
	return val.Bool(), nil
}

func (h *RodHost) eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	h.mu.Lock()
	page := h.page
	h.mu.Unlock()
	if page == nil {
		return gson.JSON{}, errNothingLoaded
	}

	obj, err := page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, fmt.Errorf("eval embed page: %w", err)
	}
	return obj.Value, nil
}
