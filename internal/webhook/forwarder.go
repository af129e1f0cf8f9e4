package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/beacon/beacon/internal/model"
)

// ErrDeliveryFailed wraps non-2xx collector responses.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// maxResponseDrain bounds how much of a response body is read so the
// connection can be reused.
const maxResponseDrain = 4 << 10

// Forwarder POSTs each event as JSON to a collector URL.
type Forwarder struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewForwarder creates a Forwarder. A nil client uses NewHTTPClient. An
// empty secret sends unsigned deliveries.
func NewForwarder(targetURL, secret string, client *http.Client) *Forwarder {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Forwarder{
		url:    targetURL,
		secret: secret,
		client: client,
		now:    time.Now,
	}
}

// Forward delivers event once. Retrying is left to the caller.
func (f *Forwarder) Forward(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	ts := f.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderDeliveryID, ulid.Make().String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	if f.secret != "" {
		req.Header.Set(HeaderSignature, Sign(f.secret, ts, payload))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", ExtractHost(f.url), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s responded %d", ErrDeliveryFailed, ExtractHost(f.url), resp.StatusCode)
	}
	return nil
}
