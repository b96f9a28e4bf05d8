package study

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/saidsurucu/tvstream/internal/errs"
	"github.com/saidsurucu/tvstream/internal/model"
)

// DescriptorFetcher is the narrow interface the Study Binder depends on.
// The core never talks to net/http directly — only through this seam.
type DescriptorFetcher interface {
	Fetch(ctx context.Context, wireID, version string) (model.Descriptor, error)
}

// HTTPDescriptorFetcher is the one concrete implementation this module
// ships: a plain net/http client (the teacher's own pkg/smartconnect/client.go
// never reaches for a third-party HTTP client either) wrapped in a
// circuit breaker and paced by a rate limiter, since a burst of add_study
// calls for many indicators shouldn't hammer the metadata service.
type HTTPDescriptorFetcher struct {
	client        *http.Client
	baseURL       string // e.g. "https://data.tradingview.com"
	origin        string
	sessionCookie string

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewHTTPDescriptorFetcher builds a fetcher against baseURL/pine-facade/...,
// setting Origin/Referer headers to origin and an optional session cookie.
// ratePerSecond/burst feed the outbound pacing limiter.
func NewHTTPDescriptorFetcher(baseURL, origin, sessionCookie string, ratePerSecond float64, burst int) *HTTPDescriptorFetcher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "descriptor-fetcher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &HTTPDescriptorFetcher{
		client:        &http.Client{Timeout: 10 * time.Second},
		baseURL:       baseURL,
		origin:        origin,
		sessionCookie: sessionCookie,
		breaker:       breaker,
		limiter:       rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

type translateResponse struct {
	Success bool `json:"success"`
	Result  struct {
		ILTemplate struct {
			Inputs []struct {
				ID       string   `json:"id"`
				Name     string   `json:"name"`
				Type     string   `json:"type"`
				Defval   any      `json:"defval"`
				Min      *float64 `json:"min"`
				Max      *float64 `json:"max"`
				Options  []string `json:"options"`
			} `json:"inputs"`
			Plots []struct {
				ID string `json:"id"`
			} `json:"plots"`
		} `json:"ilTemplate"`
	} `json:"result"`
}

// Fetch retrieves a descriptor via GET
// {baseURL}/pine-facade/translate/{url-encoded wireID}/{version}.
func (f *HTTPDescriptorFetcher) Fetch(ctx context.Context, wireID, version string) (model.Descriptor, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return model.Descriptor{}, errs.Wrap(errs.Timeout, "metadata fetch rate limiter", err)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, wireID, version)
	})
	if err != nil {
		if _, ok := err.(*errs.Error); ok {
			return model.Descriptor{}, err
		}
		return model.Descriptor{}, errs.Wrap(errs.NotAvailable, "fetch failed", err)
	}
	return result.(model.Descriptor), nil
}

func (f *HTTPDescriptorFetcher) doFetch(ctx context.Context, wireID, version string) (model.Descriptor, error) {
	target := fmt.Sprintf("%s/pine-facade/translate/%s/%s", f.baseURL, url.PathEscape(wireID), version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return model.Descriptor{}, errs.Wrap(errs.TransportError, "build metadata request", err)
	}
	req.Header.Set("Origin", f.origin)
	req.Header.Set("Referer", f.origin+"/")
	if f.sessionCookie != "" {
		req.Header.Set("Cookie", f.sessionCookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return model.Descriptor{}, errs.Wrap(errs.NotAvailable, "fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.Descriptor{}, errs.Newf(errs.NotAvailable, "metadata not found for %s", wireID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return model.Descriptor{}, errs.Newf(errs.AuthRequired, "access denied fetching metadata for %s", wireID)
	case resp.StatusCode != http.StatusOK:
		return model.Descriptor{}, errs.Newf(errs.NotAvailable, "fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Descriptor{}, errs.Wrap(errs.TransportError, "read metadata body", err)
	}

	var parsed translateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.Descriptor{}, errs.Wrap(errs.ParseError, "decode metadata response", err)
	}

	d := model.Descriptor{WireID: wireID, Version: version}
	for _, in := range parsed.Result.ILTemplate.Inputs {
		d.Inputs = append(d.Inputs, model.InputDef{
			Name:    in.ID,
			Type:    in.Type,
			Default: in.Defval,
			Min:     in.Min,
			Max:     in.Max,
			Options: in.Options,
		})
	}
	if mapping, ok := OutputMappings[wireID]; ok {
		d.OutputMapping = mapping
	}
	return d, nil
}
