package scheduler

import (
	"time"

	"github.com/karrick/tparse/v2"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/pkg/errors"
)

var whenParser *when.Parser

func init() {
	whenParser = when.New(nil)
	whenParser.Add(en.All...)
	whenParser.Add(common.All...)
}

// ParseFireAt understands natural language ("in two hours", "tomorrow
// at 9am") as well as duration strings ("45m", "1d12h").
func ParseFireAt(text string, base time.Time) (time.Time, error) {
	if result, err := whenParser.Parse(text, base); err == nil && result != nil {
		if result.Time.After(base) {
			return result.Time, nil
		}
	}

	if parsed, err := tparse.AddDuration(base, text); err == nil && parsed.After(base) {
		return parsed, nil
	}

	return time.Time{}, errors.Errorf("unable to parse a future time from %q", text)
}

// ParseInterval parses recurrence strings like "30m" or "1d".
func ParseInterval(text string) (time.Duration, error) {
	base := time.Now()
	parsed, err := tparse.AddDuration(base, text)
	if err != nil {
		return 0, errors.Wrap(err, "unable to parse interval")
	}

	interval := parsed.Sub(base)
	if interval < time.Minute {
		return 0, errors.New("interval has to be at least one minute")
	}
	return interval, nil
}
