package env_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatman/EventHorizon-sub000/pkg/env"
)

func TestParse(t *testing.T) {
	t.Setenv("TEST_BATCH_SIZE", "100")
	t.Setenv("TEST_BAD_INT", "hundred")

	size, err := env.Parse[int]("TEST_BATCH_SIZE")
	require.NoError(t, err)
	assert.Equal(t, 100, size)

	_, err = env.Parse[int]("TEST_BAD_INT")
	assert.Error(t, err)

	_, err = env.Parse[string]("TEST_NOT_SET_AT_ALL")
	assert.Error(t, err)
}

func TestParseOptional(t *testing.T) {
	t.Setenv("TEST_REFRESH_INTERVAL", "30m")

	interval, err := env.ParseOptional[*time.Duration]("TEST_REFRESH_INTERVAL")
	require.NoError(t, err)
	require.NotNil(t, interval)
	assert.Equal(t, 30*time.Minute, *interval)

	missing, err := env.ParseOptional[*float64]("TEST_NOT_SET_AT_ALL")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestParseList(t *testing.T) {
	t.Setenv("TEST_TOPICS", "orders, payments,,shipments ")

	topics, err := env.ParseList[string]("TEST_TOPICS", ",")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "payments", "shipments"}, topics)
}

func TestMust_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		env.Must(env.Parse[int]("TEST_NOT_SET_AT_ALL"))
	})
}
