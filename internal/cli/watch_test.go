package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mw-bridge/pb"
)

func TestEventPrinterStopsAtLimitDuringBurst(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, 100)

	for i := int32(0); i < 250; i++ {
		require.NoError(t, p.print(&pb.Event{Message: &pb.EventPing{Ping: &pb.Ping{Index: i}}}))
	}

	select {
	case <-p.done:
	default:
		t.Fatal("limit reached but done still open")
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 100)
	assert.True(t, strings.HasPrefix(lines[0], "ping "), lines[0])
}

func TestEventPrinterWithoutLimit(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.print(&pb.Event{}))
	}
	select {
	case <-p.done:
		t.Fatal("done closed without a limit")
	default:
	}
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}
