package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2021, 2, 3, 5, 5, 6, 999, loc)

	assert.Equal(t, "2021-02-03T04:05:06+00:00", Format(ts))
}

func TestFixed(t *testing.T) {
	want := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
	got, err := Fixed(want).Now(context.Background())
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestNewNTP_Defaults(t *testing.T) {
	n := NewNTP(nil, 0)
	assert.Equal(t, DefaultPool, n.Servers)
	assert.Equal(t, defaultNTPTimeout, n.Timeout)
}

func TestNTP_AllServersFail(t *testing.T) {
	var asked []string
	n := NewNTP([]string{"a", "b"}, time.Second)
	n.query = func(host string, opt ntp.QueryOptions) (*ntp.Response, error) {
		asked = append(asked, host)
		assert.Equal(t, 4, opt.Version)
		return nil, errors.New("timeout")
	}

	_, err := n.Now(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTimestamp))
	assert.Equal(t, []string{"a", "b"}, asked)
}

func TestNTP_CanceledContext(t *testing.T) {
	n := NewNTP([]string{"a"}, time.Second)
	n.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		t.Fatal("query should not run with a canceled context")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Now(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
