package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidatesWithResources(t *testing.T) {
	cfg := Default()
	cfg.Queues = []Resource{{Name: "orders-queue"}}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.QueueInterval)
	assert.Equal(t, 5*time.Minute, cfg.MetricPeriod)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := &Config{
		QueueInterval:  -1,
		MaxDLQMessages: 0,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region must not be empty")
	assert.Contains(t, err.Error(), "queueInterval must be positive")
	assert.Contains(t, err.Error(), "maxDLQMessages must be positive")
}

func TestValidateFunctionIntervalFloor(t *testing.T) {
	cfg := Default()
	cfg.Queues = []Resource{{Name: "q"}}
	cfg.FunctionInterval = 5 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "functionInterval must not be shorter")
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queuepulse.yaml")
	data := `
region: sa-east-1
accountId: "123456789012"
queues:
  - name: trigger-queue
  - name: context-queue
dlqs:
  - name: trigger-dlq
functions:
  - name: ingest-fn
queueInterval: 15s
metricPeriod: 10m
maxDLQMessages: 30
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sa-east-1", cfg.Region)
	assert.Equal(t, 15*time.Second, cfg.QueueInterval)
	assert.Equal(t, 10*time.Minute, cfg.MetricPeriod)
	assert.Equal(t, 30, cfg.MaxDLQMessages)
	assert.Len(t, cfg.Queues, 2)
	assert.Equal(t, "trigger-dlq", cfg.DLQs[0].Name)
	// The function interval is lifted to the queue interval when only the
	// latter was tuned.
	assert.Equal(t, 15*time.Second, cfg.FunctionInterval)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvRegion, "eu-west-1")
	t.Setenv(EnvQueueNames, "a-queue, b-queue")
	t.Setenv(EnvDLQNames, "a-dlq")
	t.Setenv(EnvQueueInterval, "20")
	t.Setenv(EnvFunctionInterval, "60")
	t.Setenv(EnvSaveToLog, "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, []Resource{{Name: "a-queue"}, {Name: "b-queue"}}, cfg.Queues)
	assert.Equal(t, []Resource{{Name: "a-dlq"}}, cfg.DLQs)
	assert.Equal(t, 20*time.Second, cfg.QueueInterval)
	assert.Equal(t, time.Minute, cfg.FunctionInterval)
	assert.True(t, cfg.SaveToLog)
}

func TestQueueURL(t *testing.T) {
	cfg := Default()
	cfg.AccountID = "123456789012"

	assert.Equal(t,
		"https://sqs.us-east-1.amazonaws.com/123456789012/orders-dlq",
		cfg.QueueURL("orders-dlq"))
}

func TestEffectiveDLQCallBudget(t *testing.T) {
	cfg := Default()

	cfg.MaxDLQMessages = 15
	assert.Equal(t, 4, cfg.EffectiveDLQCallBudget())

	cfg.DLQCallBudget = 2
	assert.Equal(t, 2, cfg.EffectiveDLQCallBudget())
}
