package entitlements

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rtzll/vidagent/internal/resilience"
)

// DefaultSchematicURL is the hosted entitlements API.
const DefaultSchematicURL = "https://api.schematichq.com"

// Schematic checks and tracks usage against the hosted Schematic API.
// Companies are keyed by user id.
type Schematic struct {
	baseURL string
	apiKey  string
	client  resilience.Doer
	timeout time.Duration
}

// SchematicOption customizes a Schematic client.
type SchematicOption func(*Schematic)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) SchematicOption {
	return func(s *Schematic) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c resilience.Doer) SchematicOption {
	return func(s *Schematic) { s.client = c }
}

// WithRequestTimeout bounds each API call.
func WithRequestTimeout(d time.Duration) SchematicOption {
	return func(s *Schematic) { s.timeout = d }
}

func NewSchematic(apiKey string, opts ...SchematicOption) *Schematic {
	s := &Schematic{
		baseURL: DefaultSchematicURL,
		apiKey:  apiKey,
		client:  http.DefaultClient,
		timeout: resilience.DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type featureUsageResponse struct {
	Data struct {
		Features []struct {
			Feature *struct {
				EventSubtype string `json:"event_subtype"`
			} `json:"feature"`
			Usage      *int64 `json:"usage"`
			Allocation *int64 `json:"allocation"`
		} `json:"features"`
	} `json:"data"`
}

// Check implements Checker.
func (s *Schematic) Check(ctx context.Context, userID string, feature Feature) error {
	usage, err := s.FeatureUsage(ctx, userID)
	if err != nil {
		return fmt.Errorf("check %s usage: %w", feature, err)
	}
	for i := range usage {
		if usage[i].Feature == feature {
			return evaluate(&usage[i], feature)
		}
	}
	return ErrFeatureUnavailable
}

// FeatureUsage returns usage for every feature on the user's plan.
func (s *Schematic) FeatureUsage(ctx context.Context, userID string) ([]Usage, error) {
	q := url.Values{}
	q.Set("keys[id]", userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/companies/feature-usage?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	res, err := resilience.FetchWithTimeout(ctx, s.client, req, s.timeout)
	if err != nil {
		return nil, err
	}

	var body featureUsageResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return nil, fmt.Errorf("decode feature usage: %w", err)
	}

	var out []Usage
	for _, f := range body.Data.Features {
		if f.Feature == nil {
			continue
		}
		if f.Usage == nil || f.Allocation == nil {
			return nil, fmt.Errorf("feature %s: usage or allocation missing", f.Feature.EventSubtype)
		}
		out = append(out, Usage{
			Feature:    Feature(f.Feature.EventSubtype),
			Usage:      *f.Usage,
			Allocation: *f.Allocation,
		})
	}
	return out, nil
}

type trackEvent struct {
	EventType string         `json:"event_type"`
	Body      trackEventBody `json:"body"`
}

type trackEventBody struct {
	Event     string            `json:"event"`
	Company   map[string]string `json:"company"`
	User      map[string]string `json:"user"`
	Timestamp time.Time         `json:"sent_at"`
}

// Track implements Tracker.
func (s *Schematic) Track(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	payload, err := json.Marshal(trackEvent{
		EventType: "track",
		Body: trackEventBody{
			Event:     string(ev.Feature),
			Company:   map[string]string{"id": ev.UserID},
			User:      map[string]string{"id": ev.UserID},
			Timestamp: at.UTC(),
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/events", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	if _, err := resilience.FetchWithTimeout(ctx, s.client, req, s.timeout); err != nil {
		return fmt.Errorf("track %s: %w", ev.Feature, err)
	}
	return nil
}

func (s *Schematic) authorize(req *http.Request) {
	req.Header.Set("X-Schematic-Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")
}
