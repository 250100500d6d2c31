package entitlements

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Period is the window a plan allocation applies to.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// Plan grants a user (or "*" for everyone) an allocation of one feature per period.
type Plan struct {
	User       string  `yaml:"user"`
	Feature    Feature `yaml:"feature"`
	Period     Period  `yaml:"period"`
	Allocation int64   `yaml:"allocation"`
}

type plansFile struct {
	Plans []Plan `yaml:"plans"`
}

// DefaultPlans is used when no plans file exists.
var DefaultPlans = []Plan{
	{User: "*", Feature: AnalyseVideo, Period: Monthly, Allocation: 10},
	{User: "*", Feature: Transcription, Period: Monthly, Allocation: 10},
	{User: "*", Feature: TitleGeneration, Period: Monthly, Allocation: 20},
	{User: "*", Feature: ImageGeneration, Period: Monthly, Allocation: 5},
}

// LoadPlans reads plan allocations from a YAML file, expanding environment variables.
// A missing file yields DefaultPlans.
func LoadPlans(path string) ([]Plan, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPlans, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plans: %w", err)
	}

	var f plansFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	for i, p := range f.Plans {
		if p.User == "" || p.Feature == "" {
			return nil, fmt.Errorf("plan %d: user and feature are required", i)
		}
		if p.Period == "" {
			f.Plans[i].Period = Monthly
		}
	}
	return f.Plans, nil
}

// periodStart returns the beginning of the period containing now, in UTC.
func periodStart(period Period, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case Daily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default: // monthly
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}
