package httpapi

import (
	"fmt"
	"time"

	"wellsync-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// bindTimeRange parses from/to query params as RFC3339 timestamps.
func bindTimeRange(c *gin.Context, r *reporting.TimeRange) error {
	from, err := parseQueryTime(c, "from")
	if err != nil {
		return err
	}
	to, err := parseQueryTime(c, "to")
	if err != nil {
		return err
	}
	r.From = from
	r.To = to
	return nil
}

func parseQueryTime(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required (RFC3339)", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %v", name, err)
	}
	return t, nil
}
