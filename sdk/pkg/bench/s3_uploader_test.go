package bench

import (
	"testing"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Uploader(t *testing.T) {
	_, err := NewS3Uploader(config.S3Config{})
	assert.Error(t, err)

	u, err := NewS3Uploader(config.S3Config{Bucket: "bench-reports", Region: "us-east-1", Prefix: "nightly/nats"})
	require.NoError(t, err)
	assert.Equal(t, "nightly/nats/1-1-10-8-1000.json", u.Key("/tmp/out/1-1-10-8-1000.json"))

	u, err = NewS3Uploader(config.S3Config{Bucket: "bench-reports", Region: "us-east-1"})
	require.NoError(t, err)
	assert.Equal(t, "r.xlsx", u.Key("r.xlsx"))
}
