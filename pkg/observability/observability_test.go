package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false}, nil)
	require.NoError(t, err)

	// All record paths must be safe without an exporter.
	p.RecordRound(context.Background(), true, 9, 120*time.Millisecond)
	p.RecordNodeFailure(context.Background(), "verifier-3")
	p.RecordDecision(context.Background(), "rejected")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	p.RecordRound(context.Background(), false, 6, time.Millisecond)
	p.RecordNodeFailure(context.Background(), "verifier-1")
	p.RecordDecision(context.Background(), "verified")
	assert.NoError(t, p.Shutdown(context.Background()))
}
