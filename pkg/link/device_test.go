//go:build !tinygo

package link

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	input := strings.Join([]string{
		"1000,20.0,25.0,0.0,manual",
		"",
		"OK",
		"garbage",
		"2000,20.5,25.0,10.0,pid",
		"ERR link: bad command",
	}, "\n")

	samples := make(chan Sample, 10)
	replies := make(chan string, 10)
	dispatch(context.Background(), strings.NewReader(input), samples, replies)
	close(samples)
	close(replies)

	var got []Sample
	for s := range samples {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Timestamp.UnixMicro())
	assert.Equal(t, 20.5, got[1].Input)

	var lines []string
	for r := range replies {
		lines = append(lines, r)
	}
	assert.Equal(t, []string{"OK", "ERR link: bad command"}, lines)
}

func TestDispatch_FullChannelsDoNotBlock(t *testing.T) {
	input := strings.Repeat("1000,20.0,25.0,0.0,manual\nOK\n", 5)

	samples := make(chan Sample, 1)
	replies := make(chan string, 1)
	dispatch(context.Background(), strings.NewReader(input), samples, replies)

	assert.Len(t, samples, 1)
	assert.Len(t, replies, 1)
}

func TestDispatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	samples := make(chan Sample, 1)
	dispatch(ctx, strings.NewReader("1000,20.0,25.0,0.0,manual\n"), samples, make(chan string, 1))
	assert.Empty(t, samples)
}

func TestSerial_NotConnected(t *testing.T) {
	d := New("/dev/null-port", 0, 0)
	assert.False(t, d.IsConnected())
	assert.ErrorIs(t, d.Send(Command{Op: OpQuery}), ErrNotConnected)
	assert.NoError(t, d.Close())
}
