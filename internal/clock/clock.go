// Package clock provides the run timestamp shared by every file written in
// one fetch.
package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// Layout is the timestamp format written to .time files.
const Layout = "2006-01-02T15:04:05+00:00"

// ErrNoTimestamp is returned when no NTP server answered.
var ErrNoTimestamp = errors.New("could not get timestamp")

// DefaultPool is queried in order until one server answers.
var DefaultPool = []string{
	"0.pool.ntp.org",
	"1.pool.ntp.org",
	"2.pool.ntp.org",
	"3.pool.ntp.org",
}

const defaultNTPTimeout = 2 * time.Second

// Source yields the current time.
type Source interface {
	Now(ctx context.Context) (time.Time, error)
}

// Format renders t in UTC using Layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// System reads the local clock.
type System struct{}

func (System) Now(context.Context) (time.Time, error) {
	return time.Now(), nil
}

// Fixed always returns the same instant.
type Fixed time.Time

func (f Fixed) Now(context.Context) (time.Time, error) {
	return time.Time(f), nil
}

type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTP asks an NTP pool for the time so that hosts with a skewed clock still
// produce comparable tags.
type NTP struct {
	Servers []string
	Timeout time.Duration

	query queryFunc
}

// NewNTP returns an NTP source; an empty server list uses DefaultPool.
func NewNTP(servers []string, timeout time.Duration) *NTP {
	if len(servers) == 0 {
		servers = DefaultPool
	}
	if timeout <= 0 {
		timeout = defaultNTPTimeout
	}
	return &NTP{
		Servers: servers,
		Timeout: timeout,
		query:   ntp.QueryWithOptions,
	}
}

func (n *NTP) Now(ctx context.Context) (time.Time, error) {
	query := n.query
	if query == nil {
		query = ntp.QueryWithOptions
	}

	var errs []error
	for _, server := range n.Servers {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}

		resp, err := query(server, ntp.QueryOptions{Version: 4, Timeout: n.Timeout})
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		return resp.Time, nil
	}
	return time.Time{}, fmt.Errorf("%w: %w", ErrNoTimestamp, errors.Join(errs...))
}
