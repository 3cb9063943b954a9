package serial

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/homegrid/internal/serial/serialtest"
)

func newTestLink(t *testing.T) (*Link, *serialtest.Port) {
	t.Helper()
	port := serialtest.NewPort()
	link, err := NewLink(port, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	return link, port
}

func TestReadLine(t *testing.T) {
	link, port := newTestLink(t)

	port.Feed("1234,1,15.169,122.5637\r\n1234,0,15.169,")
	port.Feed("122.5637\n")

	line, err := link.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "1234,1,15.169,122.5637\r", line)

	line, err = link.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "1234,0,15.169,122.5637", line)
}

func TestReadLine_TimeoutKeepsPartialInput(t *testing.T) {
	link, port := newTestLink(t)

	port.Feed("abcd,0,")
	_, err := link.ReadLine()
	assert.ErrorIs(t, err, ErrReadTimeout)

	port.Feed("1,2\n")
	line, err := link.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "abcd,0,1,2", line)
}

func TestReadLine_NothingReceived(t *testing.T) {
	link, _ := newTestLink(t)

	start := time.Now()
	_, err := link.ReadLine()
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadLine_TooLong(t *testing.T) {
	link, port := newTestLink(t)

	port.Feed(strings.Repeat("x", MaxLineLength+10))
	_, err := link.ReadLine()
	for errors.Is(err, ErrReadTimeout) {
		_, err = link.ReadLine()
	}
	assert.ErrorIs(t, err, ErrLineTooLong)

	port.Feed("xxx\nok\n")
	line, err := link.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "ok", line)
}

func readUntilQuiet(t *testing.T, link *Link) ([]string, []error) {
	t.Helper()
	var lines []string
	var errs []error
	for {
		line, err := link.ReadLine()
		if errors.Is(err, ErrReadTimeout) {
			return lines, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines = append(lines, line)
	}
}

func TestReadLine_OversizedLineTailIsDropped(t *testing.T) {
	link, port := newTestLink(t)

	port.Feed(strings.Repeat("Z", 1280) + "AA,0,15,120\n")

	lines, errs := readUntilQuiet(t, link)
	assert.Empty(t, lines)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLineTooLong)

	port.Feed("AA,1,0,120\n")
	line, err := link.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "AA,1,0,120", line)
}

func TestReadLine_OversizedLineArrivingWhole(t *testing.T) {
	link, port := newTestLink(t)

	port.Feed(strings.Repeat("Z", 1100) + ",0,15,120\nAA,0,15,120\n")

	_, err := link.ReadLine()
	for errors.Is(err, ErrReadTimeout) {
		_, err = link.ReadLine()
	}
	assert.ErrorIs(t, err, ErrLineTooLong)

	line, err := link.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "AA,0,15,120", line)
}

func TestReadLine_MaximumLengthAccepted(t *testing.T) {
	link, port := newTestLink(t)

	port.Feed(strings.Repeat("a", MaxLineLength) + "\n")

	line, err := link.ReadLine()
	for errors.Is(err, ErrReadTimeout) {
		line, err = link.ReadLine()
	}
	require.NoError(t, err)
	assert.Len(t, line, MaxLineLength)
}

func TestReadLine_Closed(t *testing.T) {
	link, _ := newTestLink(t)

	done := make(chan error, 1)
	go func() {
		_, err := link.ReadLine()
		done <- err
	}()

	require.NoError(t, link.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed) || errors.Is(err, ErrReadTimeout))
	case <-time.After(time.Second):
		t.Fatal("ReadLine did not return after Close")
	}
}

func TestWrite(t *testing.T) {
	link, port := newTestLink(t)

	n, err := link.Write([]byte("0013a20041cc5773,on"))
	require.NoError(t, err)
	assert.Equal(t, 19, n)
	assert.Equal(t, "0013a20041cc5773,on", port.Written())
}

func TestWrite_Errors(t *testing.T) {
	link, port := newTestLink(t)

	port.FailWrites(errors.New("EIO"))
	_, err := link.Write([]byte("x"))
	assert.Error(t, err)

	port.FailWrites(nil)
	require.NoError(t, link.Close())
	_, err = link.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open("/dev/does-not-exist-homegrid", 115200, time.Second)
	assert.Error(t, err)
}

func TestOpenPort_MissingDevice(t *testing.T) {
	_, err := OpenPort("/dev/does-not-exist-homegrid", 115200)
	assert.Error(t, err)
}
