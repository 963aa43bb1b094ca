package driver

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"pagelens/internal/domain"
)

// apiURLRe marks request URLs worth surfacing even when they target another
// host. Everything else must match the page's host to be kept.
var apiURLRe = regexp.MustCompile(`(?i)api|graphql|json|data|query|fetch`)

// netRingCap bounds the raw capture ring. The per-session limit is applied
// later, at read time, after host filtering.
const netRingCap = 128

type pendingRequest struct {
	method   string
	url      string
	resource string
}

// netLog buffers XHR/Fetch exchanges observed on the wire. Request and
// response arrive as separate CDP events, so requests wait in pending until
// their response completes them.
type netLog struct {
	mu      sync.Mutex
	pending map[network.RequestID]pendingRequest
	ring    []domain.NetworkExchange
}

func newNetLog() *netLog {
	return &netLog{pending: make(map[network.RequestID]pendingRequest)}
}

// reset drops all buffered exchanges. Called on navigation; the old page's
// traffic does not describe the new one.
func (l *netLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = make(map[network.RequestID]pendingRequest)
	l.ring = nil
}

func (l *netLog) onRequest(ev *network.EventRequestWillBeSent) {
	if ev.Type != network.ResourceTypeXHR && ev.Type != network.ResourceTypeFetch {
		return
	}
	if ev.Request == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[ev.RequestID] = pendingRequest{
		method:   ev.Request.Method,
		url:      ev.Request.URL,
		resource: strings.ToLower(string(ev.Type)),
	}
}

func (l *netLog) onResponse(ev *network.EventResponseReceived) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[ev.RequestID]
	if !ok {
		return
	}
	delete(l.pending, ev.RequestID)

	status := 0
	if ev.Response != nil {
		status = int(ev.Response.Status)
	}
	l.ring = append(l.ring, domain.NetworkExchange{
		Method:   p.method,
		URL:      p.url,
		Status:   status,
		Resource: p.resource,
	})
	if len(l.ring) > netRingCap {
		l.ring = l.ring[len(l.ring)-netRingCap:]
	}
}

// recent returns the newest exchanges relevant to the page at pageURL: same
// host, or a URL that looks like an API endpoint. At most max entries.
func (l *netLog) recent(pageURL string, max int) []domain.NetworkExchange {
	if max <= 0 {
		return nil
	}
	pageHost := hostOf(pageURL)

	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []domain.NetworkExchange
	for _, ex := range l.ring {
		if (pageHost != "" && hostOf(ex.URL) == pageHost) || apiURLRe.MatchString(ex.URL) {
			kept = append(kept, ex)
		}
	}
	if len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	return kept
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// attachNetworkCapture enables the CDP network domain and routes events into
// nl. When proxyAuth is set it also enables the fetch domain to answer proxy
// authentication challenges — Chrome has no flag for proxy credentials.
func attachNetworkCapture(bctx context.Context, nl *netLog, proxyAuth *domain.ProxyConfig, logger *slog.Logger) error {
	actions := []chromedp.Action{network.Enable()}
	if proxyAuth != nil {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	if err := chromedp.Run(bctx, actions...); err != nil {
		return err
	}

	chromedp.ListenTarget(bctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			nl.onRequest(e)
		case *network.EventResponseReceived:
			nl.onResponse(e)
		case *fetch.EventRequestPaused:
			// With auth handling on, every request pauses and must be
			// explicitly continued.
			go func() {
				ectx := executorCtx(bctx)
				if err := fetch.ContinueRequest(e.RequestID).Do(ectx); err != nil {
					logger.Debug("continue paused request", "error", err)
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				ectx := executorCtx(bctx)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxyAuth.Username,
					Password: proxyAuth.Password,
				}
				if err := fetch.ContinueWithAuth(e.RequestID, resp).Do(ectx); err != nil {
					logger.Debug("answer auth challenge", "error", err)
				}
			}()
		}
	})
	return nil
}

// executorCtx rebinds bctx so raw cdproto commands can execute outside a
// chromedp.Run.
func executorCtx(bctx context.Context) context.Context {
	c := chromedp.FromContext(bctx)
	return cdp.WithExecutor(bctx, c.Target)
}
