package config

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseDuration accepts time.ParseDuration strings plus day ("7d") and week ("2w")
// suffixes. Compound day values such as "1d12h" are not supported.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty duration")
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(value, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(value, "w"):
		unit = 7 * 24 * time.Hour
	}

	if unit != 0 {
		n, err := strconv.Atoi(strings.TrimSpace(value[:len(value)-1]))
		if err != nil || n <= 0 {
			return 0, errors.Errorf("invalid duration %q", value)
		}

		if int64(n) > math.MaxInt64/int64(unit) {
			return 0, errors.Errorf("duration %q out of range", value)
		}

		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", value)
	}
	if d <= 0 {
		return 0, errors.Errorf("duration %q must be positive", value)
	}

	return d, nil
}
