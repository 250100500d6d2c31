// Package entitlements meters feature usage per user against plan allocations.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Feature is a metered capability. Its value doubles as the usage event name.
type Feature string

const (
	AnalyseVideo    Feature = "analyse-video"
	Transcription   Feature = "transcription"
	TitleGeneration Feature = "title-generation"
	ImageGeneration Feature = "image-generation"
)

// Features lists every metered feature.
var Features = []Feature{AnalyseVideo, Transcription, TitleGeneration, ImageGeneration}

func (f Feature) String() string {
	return string(f)
}

var (
	// ErrFeatureUnavailable means the user's plan does not include the feature.
	ErrFeatureUnavailable = errors.New("this feature is not available on your current plan, please upgrade to continue")
	// ErrLimitReached is wrapped by LimitError.
	ErrLimitReached = errors.New("usage limit reached")
)

// LimitError reports a feature whose usage has reached its allocation.
type LimitError struct {
	Feature    Feature
	Usage      int64
	Allocation int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("you have reached your %s limit, please upgrade your plan to continue using this feature", e.Feature)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitReached
}

// Usage is a feature's consumption in the current period.
type Usage struct {
	Feature    Feature `json:"feature"`
	Usage      int64   `json:"usage"`
	Allocation int64   `json:"allocation"`
}

// Event is a single usage of a feature.
type Event struct {
	Feature Feature
	UserID  string
	At      time.Time
}

// Checker decides whether a user may use a feature.
type Checker interface {
	// Check returns nil when usage is below allocation, a *LimitError when
	// the allocation is used up, or ErrFeatureUnavailable.
	Check(ctx context.Context, userID string, feature Feature) error
}

// Tracker records usage events.
type Tracker interface {
	Track(ctx context.Context, ev Event) error
}

// Service checks and tracks.
type Service interface {
	Checker
	Tracker
}

// evaluate applies the allocation rule to a usage report.
func evaluate(u *Usage, feature Feature) error {
	if u == nil {
		return ErrFeatureUnavailable
	}
	if u.Usage >= u.Allocation {
		return &LimitError{Feature: feature, Usage: u.Usage, Allocation: u.Allocation}
	}
	return nil
}

// Unlimited allows every feature and discards events.
type Unlimited struct{}

func (Unlimited) Check(context.Context, string, Feature) error { return nil }

func (Unlimited) Track(context.Context, Event) error { return nil }
