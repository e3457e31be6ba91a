package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withProduction(t *testing.T) {
	t.Helper()
	prev := ProductionMode
	SetProductionMode(true)
	t.Cleanup(func() { SetProductionMode(prev) })
}

func TestSanitizePassthroughInDevelopment(t *testing.T) {
	SetProductionMode(false)
	err := errors.New("dial tcp 10.0.0.5:9000: connection refused")
	assert.Equal(t, err, Sanitize(err))
}

func TestSanitizeHidesBackendDetail(t *testing.T) {
	withProduction(t)

	err := Sanitize(errors.New("clickhouse: dial tcp 10.0.0.5:9000: connection refused"))
	assert.Equal(t, "backend operation failed", err.Error())
}

func TestSanitizeStringMasksPathsAndIPs(t *testing.T) {
	withProduction(t)

	got := SanitizeString("open /etc/soar/playbooks/isolate.yaml: permission denied from 192.168.4.17")
	assert.NotContains(t, got, "/etc/soar")
	assert.Contains(t, got, "192.168.x.x")
}

func TestSafeMessageOperatorErrorsPassThrough(t *testing.T) {
	withProduction(t)

	for _, msg := range []string{
		"invalid binding predicate: predicate syntax error at position 14: expected operator",
		"binding not found",
		"playbook not found: quarantine-host",
	} {
		assert.Equal(t, msg, SafeMessage(errors.New(msg)))
	}
}

func TestSafeMessageSanitizesEngineErrors(t *testing.T) {
	withProduction(t)

	got := SafeMessage(errors.New("redis: connection pool timeout password=hunter2"))
	assert.Equal(t, "backend operation failed", got)
}

func TestSanitizeNil(t *testing.T) {
	assert.NoError(t, Sanitize(nil))
	assert.Equal(t, "", SafeMessage(nil))
}
