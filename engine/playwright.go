package engine

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultStepTimeoutMS  = 30000
	DefaultNavRetries     = 2
)

// Options configure the Playwright-backed engine.
type Options struct {
	Headless      bool
	StepTimeoutMS float64 // default per-step timeout when a step carries none
	NavRetries    int     // immediate retries for failed navigations
}

// Playwright drives headless Chromium. One browser process is shared; every
// Launch creates its own browser context and page, so cookies and storage
// never leak between jobs.
type Playwright struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    Options

	mu      sync.Mutex
	handles map[string]*pwHandle
}

type pwHandle struct {
	id      string
	context playwright.BrowserContext
	page    playwright.Page
	crashed atomic.Bool
}

func (h *pwHandle) ID() string { return h.id }

// NewPlaywright installs the driver if needed, starts it, and launches the
// shared browser process.
func NewPlaywright(opts Options) (*Playwright, error) {
	if opts.StepTimeoutMS == 0 {
		opts.StepTimeoutMS = DefaultStepTimeoutMS
	}
	if opts.NavRetries == 0 {
		opts.NavRetries = DefaultNavRetries
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Playwright{
		pw:      pw,
		browser: browser,
		opts:    opts,
		handles: make(map[string]*pwHandle),
	}, nil
}

// Launch creates a fresh isolated browser context with a single page.
func (e *Playwright) Launch(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := e.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(e.opts.StepTimeoutMS)

	h := &pwHandle{
		id:      uuid.NewString(),
		context: bctx,
		page:    page,
	}
	page.On("crash", func(playwright.Page) {
		h.crashed.Store(true)
	})

	e.mu.Lock()
	e.handles[h.id] = h
	e.mu.Unlock()
	return h, nil
}

// Execute runs the step list in order. The ctx deadline bounds the whole run;
// when it expires the underlying context is torn down so a hung step cannot
// outlive the job.
func (e *Playwright) Execute(ctx context.Context, handle Handle, steps []Step) (Result, error) {
	h, ok := handle.(*pwHandle)
	if !ok {
		return Result{}, fmt.Errorf("unknown handle type %T", handle)
	}

	// Forced teardown on deadline: close the browser context so any
	// in-flight playwright call errors out instead of hanging. The guard
	// arbitrates between the deadline firing and the run finishing; a run
	// that claims first keeps its context, so a context handed back to the
	// pool is never closed behind its back.
	var guard teardownGuard
	stop := watchTeardown(ctx, &guard, func() { h.context.Close() })
	defer stop()

	res := Result{Extracted: make(map[string]string)}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := e.runStep(ctx, h, step, &res)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			if step.Optional {
				continue
			}
			if !guard.claim() {
				return res, ctx.Err()
			}
			res.Clean = h.clean()
			return res, &FaultError{Step: i, Kind: step.Kind, Message: err.Error(), Err: err}
		}
		res.FinalURL = h.page.URL()
	}

	if !guard.claim() {
		// the deadline won the race against the last step
		return res, ctx.Err()
	}
	res.Clean = h.clean()
	if !res.Clean {
		return res, &FaultError{Step: len(steps), Kind: "", Message: "context crashed during run"}
	}
	return res, nil
}

// teardownGuard decides the race between a finishing run and the deadline
// watchdog. Exactly one side claims; the watchdog tears down only when it
// claims first.
type teardownGuard struct{ done atomic.Bool }

func (g *teardownGuard) claim() bool { return g.done.CompareAndSwap(false, true) }

// watchTeardown invokes teardown when ctx expires while the run is still in
// flight. The returned stop releases the watcher once the run is over.
func watchTeardown(ctx context.Context, g *teardownGuard, teardown func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if g.claim() {
				teardown()
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (e *Playwright) runStep(ctx context.Context, h *pwHandle, step Step, res *Result) error {
	timeout := e.stepTimeout(ctx, step)

	switch step.Kind {
	case StepNavigate:
		return e.navigate(ctx, h, step.URL, timeout)

	case StepWaitFor:
		_, err := h.page.WaitForSelector(step.Selector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(timeout),
		})
		return err

	case StepClick:
		return h.page.Click(step.Selector, playwright.PageClickOptions{
			Timeout: playwright.Float(timeout),
		})

	case StepFill:
		return h.page.Fill(step.Selector, step.Value, playwright.PageFillOptions{
			Timeout: playwright.Float(timeout),
		})

	case StepExtractText:
		el, err := h.page.QuerySelector(step.Selector)
		if err != nil {
			return err
		}
		if el == nil {
			return fmt.Errorf("no element matches selector %q", step.Selector)
		}
		text, err := el.TextContent()
		if err != nil {
			return err
		}
		res.Extracted[step.Name] = normText(text)
		return nil

	case StepExtractAttribute:
		el, err := h.page.QuerySelector(step.Selector)
		if err != nil {
			return err
		}
		if el == nil {
			return fmt.Errorf("no element matches selector %q", step.Selector)
		}
		val, err := el.GetAttribute(step.Attribute)
		if err != nil {
			return err
		}
		res.Extracted[step.Name] = normText(val)
		return nil

	case StepEvaluate:
		out, err := h.page.Evaluate(step.Value)
		if err != nil {
			return err
		}
		res.Extracted[step.Name] = fmt.Sprint(out)
		return nil

	default:
		return fmt.Errorf("unsupported step kind %q", step.Kind)
	}
}

// navigate retries transient failures with exponential backoff before giving
// up, since first-load flakiness is common against slow targets.
func (e *Playwright) navigate(ctx context.Context, h *pwHandle, url string, timeout float64) error {
	var lastErr error
	for attempt := 0; attempt <= e.opts.NavRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 500 * time.Millisecond):
			}
		}
		_, err := h.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   playwright.Float(timeout),
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (e *Playwright) stepTimeout(ctx context.Context, step Step) float64 {
	timeout := e.opts.StepTimeoutMS
	if step.TimeoutMS > 0 {
		timeout = step.TimeoutMS
	}
	// Never let a single step wait past the job deadline.
	if deadline, ok := ctx.Deadline(); ok {
		remaining := float64(time.Until(deadline).Milliseconds())
		if remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < 1 {
		timeout = 1
	}
	return timeout
}

// Healthy reports whether the handle's page is still open and uncrashed.
func (e *Playwright) Healthy(handle Handle) bool {
	h, ok := handle.(*pwHandle)
	if !ok {
		return false
	}
	return h.clean()
}

func (e *Playwright) Terminate(handle Handle) error {
	h, ok := handle.(*pwHandle)
	if !ok {
		return fmt.Errorf("unknown handle type %T", handle)
	}

	e.mu.Lock()
	delete(e.handles, h.id)
	e.mu.Unlock()

	_ = h.page.Close()
	if err := h.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

// Close tears down every live context, the browser, and the driver.
func (e *Playwright) Close() error {
	e.mu.Lock()
	for id, h := range e.handles {
		h.page.Close()
		h.context.Close()
		delete(e.handles, id)
	}
	e.mu.Unlock()

	if err := e.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

func (h *pwHandle) clean() bool {
	return !h.crashed.Load() && !h.page.IsClosed()
}

var wsRe = regexp.MustCompile(`\s+`)

func normText(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
