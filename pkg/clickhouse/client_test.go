package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	tests := map[string]struct {
		cfg  ClientConfig
		want string
	}{
		"native with timeouts": {
			cfg: ClientConfig{
				Host: "ch", Port: 9000, Database: "mtf", User: "default",
				DialTimeout: 5 * time.Second, ReadTimeout: 30 * time.Second,
			},
			want: "clickhouse://default:@ch:9000/mtf?dial_timeout=5s&read_timeout=30s",
		},
		"http with async insert": {
			cfg: ClientConfig{
				Host: "ch", Port: 8123, Database: "mtf", User: "u", Password: "p",
				UseHTTP: true, AsyncInsert: true, WaitForAsync: true,
			},
			want: "http://u:p@ch:8123/mtf?async_insert=1&wait_for_async_insert=1",
		},
		"async without wait": {
			cfg:  ClientConfig{Host: "ch", Port: 9000, Database: "mtf", User: "u", AsyncInsert: true},
			want: "clickhouse://u:@ch:9000/mtf?async_insert=1",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, BuildDSN(tc.cfg))
		})
	}
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(context.Background(), WithPort(9000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
}
