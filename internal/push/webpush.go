package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

const (
	defaultTTL     = 60 * time.Second
	errorBodyLimit = 512
)

// VAPID identifies this server to push services.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type WebPushOptions struct {
	TTL        time.Duration
	Urgency    webpush.Urgency
	HTTPClient webpush.HTTPClient
}

func (o WebPushOptions) withDefaults() WebPushOptions {
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.Urgency == "" {
		o.Urgency = webpush.UrgencyHigh
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}

// WebPush is a Transport speaking RFC 8030 Web Push with VAPID. Credentials
// are fixed for the lifetime of the value.
type WebPush struct {
	vapid VAPID
	opts  WebPushOptions
}

func NewWebPush(vapid VAPID, opts WebPushOptions) *WebPush {
	return &WebPush{vapid: vapid, opts: opts.withDefaults()}
}

func (w *WebPush) PublicKey() string {
	return w.vapid.PublicKey
}

func (w *WebPush) Send(ctx context.Context, target Target, payload []byte) Outcome {
	sub := &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys: webpush.Keys{
			P256dh: target.P256DH,
			Auth:   target.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      w.vapid.Subject,
		VAPIDPublicKey:  w.vapid.PublicKey,
		VAPIDPrivateKey: w.vapid.PrivateKey,
		TTL:             int(w.opts.TTL / time.Second),
		Urgency:         w.opts.Urgency,
		HTTPClient:      w.opts.HTTPClient,
	})
	if err != nil {
		// Encryption failures (bad keys) land here too; they are not proof
		// the endpoint is dead.
		return Outcome{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	return Classify(resp)
}

// Classify maps a push service response onto an Outcome. 404 and 410 are
// both treated as Gone since services use either for expired channels.
func Classify(resp *http.Response) Outcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{Kind: Delivered, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return Outcome{
			Kind:       Gone,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: status %d", ErrGone, resp.StatusCode),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return Outcome{
			Kind:       Transient,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("push service rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
}
