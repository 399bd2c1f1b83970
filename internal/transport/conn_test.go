package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type readStep struct {
	data []byte
	err  error
}

// fakeSocket replays scripted reads and records writes.
type fakeSocket struct {
	connectErr error
	// pendingPolls is the number of Connected calls that report the
	// connect as still in progress.
	pendingPolls int

	// writeChunk caps the bytes accepted per Write; 0 accepts everything.
	// When blockAfterWrite is set every accepted chunk is followed by one
	// ErrWouldBlock.
	writeChunk      int
	blockAfterWrite bool
	writeErr        error
	blocked         bool
	written         bytes.Buffer

	reads  []readStep
	closed int
}

func (s *fakeSocket) Connected() (bool, error) {
	if s.pendingPolls > 0 {
		s.pendingPolls--
		return false, nil
	}
	if s.connectErr != nil {
		return false, s.connectErr
	}
	return true, nil
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.blocked {
		s.blocked = false
		return 0, ErrWouldBlock
	}
	n := len(p)
	if s.writeChunk > 0 && n > s.writeChunk {
		n = s.writeChunk
	}
	s.written.Write(p[:n])
	s.blocked = s.blockAfterWrite
	return n, nil
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, ErrWouldBlock
	}
	step := &s.reads[0]
	if step.err != nil {
		err := step.err
		s.reads = s.reads[1:]
		return 0, err
	}
	n := copy(p, step.data)
	step.data = step.data[n:]
	if len(step.data) == 0 {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func (s *fakeSocket) Close() error {
	s.closed++
	return nil
}

type fakeDialer struct {
	sock  *fakeSocket
	err   error
	dials int
}

func (d *fakeDialer) Dial(host, port string) (Socket, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.sock, nil
}

func openFake(t *testing.T, d Dialer) *Conn {
	t.Helper()
	c, err := Open("collector.local", "80", zaptest.NewLogger(t), WithDialer(d))
	require.NoError(t, err)
	return c
}

// pollUntilIdle polls until the connection returns to idle, up to limit polls.
func pollUntilIdle(t *testing.T, c *Conn, limit int) (completions int, err error) {
	t.Helper()
	for i := 0; i < limit; i++ {
		done, perr := c.Poll()
		if done {
			completions++
		}
		if perr != nil {
			err = perr
		}
		if c.State() == StateIdle {
			return completions, err
		}
	}
	t.Fatalf("connection still %s after %d polls", c.State(), limit)
	return completions, err
}

func TestOpen_RequiresHostAndPort(t *testing.T) {
	_, err := Open("", "80", nil)
	assert.Error(t, err)
	_, err = Open("localhost", "", nil)
	assert.Error(t, err)

	c, err := Open("localhost", "80", nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
}

func TestConn_IdlePollIsNoop(t *testing.T) {
	d := &fakeDialer{sock: &fakeSocket{}}
	c := openFake(t, d)

	done, err := c.Poll()
	assert.False(t, done)
	assert.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, d.dials)
}

func TestConn_FullTransaction(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{
		{data: []byte("HTTP/1.1 200 OK\r\n")},
		{err: ErrWouldBlock},
		{data: []byte("\r\nok")},
		{err: io.EOF},
	}}
	c := openFake(t, &fakeDialer{sock: sock})

	var got [][]byte
	c.OnComplete(func(resp []byte) {
		got = append(got, append([]byte(nil), resp...))
	})

	require.NoError(t, c.Enqueue([]byte("POST /post HTTP/1.1\r\n\r\n")))
	assert.Equal(t, StateConnecting, c.State())

	steps := []State{StateConnected, StateSending, StateReceiving}
	for _, want := range steps {
		done, err := c.Poll()
		require.NoError(t, err)
		require.False(t, done)
		require.Equal(t, want, c.State())
	}

	completions, err := pollUntilIdle(t, c, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, completions)
	require.Len(t, got, 1)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\nok", string(got[0]))
	assert.Equal(t, "POST /post HTTP/1.1\r\n\r\n", sock.written.String())
	assert.Equal(t, 1, sock.closed)
	assert.Nil(t, c.out)
	assert.Nil(t, c.sock)

	// Further polls deliver nothing more.
	for i := 0; i < 5; i++ {
		done, err := c.Poll()
		assert.False(t, done)
		assert.NoError(t, err)
	}
	assert.Len(t, got, 1)
}

func TestConn_OutboundExistsOnlyInFlight(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("x")}, {err: io.EOF}}}
	c := openFake(t, &fakeDialer{sock: sock})
	assert.Nil(t, c.out)

	require.NoError(t, c.Enqueue([]byte("req")))
	for c.State().InFlight() {
		require.NotNil(t, c.out, "state %s", c.State())
		_, err := c.Poll()
		require.NoError(t, err)
	}
	assert.Equal(t, StateComplete, c.State())
	assert.Nil(t, c.out)
}

func TestConn_EnqueueCopiesCallerBuffer(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{err: io.EOF}}}
	c := openFake(t, &fakeDialer{sock: sock})

	req := []byte("abc")
	require.NoError(t, c.Enqueue(req))
	req[0] = 'X'

	_, err := pollUntilIdle(t, c, 10)
	require.NoError(t, err)
	assert.Equal(t, "abc", sock.written.String())
}

func TestConn_PartialWritesResume(t *testing.T) {
	sock := &fakeSocket{
		writeChunk:      4,
		blockAfterWrite: true,
		reads:           []readStep{{err: io.EOF}},
	}
	c := openFake(t, &fakeDialer{sock: sock})
	payload := []byte("0123456789abcdef-tail")
	require.NoError(t, c.Enqueue(payload))

	sendingPolls := 0
	for c.State() != StateReceiving {
		if c.State() == StateSending {
			sendingPolls++
		}
		_, err := c.Poll()
		require.NoError(t, err)
		require.Less(t, sendingPolls, 100)
	}
	assert.Greater(t, sendingPolls, 1)
	assert.Equal(t, string(payload), sock.written.String())
}

func TestConn_EnqueueRejectedWhileInFlight(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("resp")}, {err: io.EOF}}}
	c := openFake(t, &fakeDialer{sock: sock})

	require.NoError(t, c.Enqueue([]byte("first")))
	_, err := c.Poll()
	require.NoError(t, err)
	before := c.State()

	err = c.Enqueue([]byte("second"))
	require.ErrorIs(t, err, ErrNotIdle)
	assert.Equal(t, before, c.State())

	completions, err := pollUntilIdle(t, c, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, completions)
	assert.Equal(t, "first", sock.written.String())
}

func TestConn_DialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("no such host")}
	c := openFake(t, d)
	called := false
	c.OnComplete(func([]byte) { called = true })

	require.NoError(t, c.Enqueue([]byte("req")))
	done, err := c.Poll()
	assert.False(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such host")
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.out)
	assert.False(t, called)

	// The connection is usable again.
	require.NoError(t, c.Enqueue([]byte("again")))
}

func TestConn_ConnectFailureClosesSocket(t *testing.T) {
	sock := &fakeSocket{connectErr: errors.New("connection refused")}
	c := openFake(t, &fakeDialer{sock: sock})
	require.NoError(t, c.Enqueue([]byte("req")))

	completions, err := pollUntilIdle(t, c, 10)
	require.Error(t, err)
	assert.Zero(t, completions)
	assert.Equal(t, 1, sock.closed)
	assert.Nil(t, c.sock)
}

func TestConn_WaitsForPendingConnect(t *testing.T) {
	sock := &fakeSocket{
		pendingPolls: 3,
		writeErr:     errors.New("socket is not connected"),
		reads:        []readStep{{data: []byte("HTTP/1.1 204 No Content\r\n\r\n")}, {err: io.EOF}},
	}
	c := openFake(t, &fakeDialer{sock: sock})
	require.NoError(t, c.Enqueue([]byte("req")))

	done, err := c.Poll()
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, StateConnected, c.State())

	// No write may be attempted while the connect is still in progress.
	for i := 0; i < 3; i++ {
		done, err := c.Poll()
		require.NoError(t, err)
		require.False(t, done)
		require.Equal(t, StateConnected, c.State(), "poll %d", i+1)
	}
	assert.Zero(t, sock.written.Len())

	sock.writeErr = nil
	done, err = c.Poll()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, StateSending, c.State())

	completions, err := pollUntilIdle(t, c, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, completions)
	assert.Equal(t, "req", sock.written.String())
}

func TestConn_HardErrors(t *testing.T) {
	tests := []struct {
		name string
		sock *fakeSocket
	}{
		{"send", &fakeSocket{writeErr: errors.New("broken pipe")}},
		{"receive", &fakeSocket{reads: []readStep{{data: []byte("HT")}, {err: errors.New("connection reset")}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openFake(t, &fakeDialer{sock: tt.sock})
			called := false
			c.OnComplete(func([]byte) { called = true })
			require.NoError(t, c.Enqueue([]byte("req")))

			completions, err := pollUntilIdle(t, c, 20)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name)
			assert.Zero(t, completions)
			assert.False(t, called)
			assert.Equal(t, 1, tt.sock.closed)
		})
	}
}

func TestConn_StalledReceiveNeverTimesOut(t *testing.T) {
	sock := &fakeSocket{}
	c := openFake(t, &fakeDialer{sock: sock})
	called := false
	c.OnComplete(func([]byte) { called = true })
	require.NoError(t, c.Enqueue([]byte("req")))

	for i := 0; i < 10000; i++ {
		done, err := c.Poll()
		require.NoError(t, err)
		require.False(t, done)
	}
	assert.Equal(t, StateReceiving, c.State())
	assert.False(t, called)
	assert.Zero(t, sock.closed)
}

func TestConn_TruncatesOversizedResponse(t *testing.T) {
	for _, size := range []int{InboundCapacity - 1, InboundCapacity, 10000} {
		big := bytes.Repeat([]byte("a"), size)
		sock := &fakeSocket{reads: []readStep{{data: big}}}
		c := openFake(t, &fakeDialer{sock: sock})

		var got []byte
		c.OnComplete(func(resp []byte) { got = append([]byte(nil), resp...) })
		require.NoError(t, c.Enqueue([]byte("req")))

		for c.State() != StateIdle {
			_, err := c.Poll()
			require.NoError(t, err)
			require.LessOrEqual(t, c.Received(), InboundCapacity-1)
		}
		assert.Len(t, got, InboundCapacity-1, "size %d", size)
	}
}

func TestConn_ResponseIsTerminated(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("hello")}, {err: io.EOF}}}
	c := openFake(t, &fakeDialer{sock: sock})
	require.NoError(t, c.Enqueue([]byte("req")))

	for c.State() != StateComplete {
		_, err := c.Poll()
		require.NoError(t, err)
	}
	assert.Equal(t, 5, c.Received())
	assert.Equal(t, byte(0), c.in[c.Received()])
}

func TestConn_CleanupIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	c := openFake(t, &fakeDialer{sock: sock})
	require.NoError(t, c.Enqueue([]byte("req")))
	_, err := c.Poll()
	require.NoError(t, err)
	require.NotNil(t, c.sock)

	c.cleanup()
	c.cleanup()
	assert.Equal(t, 1, sock.closed)
	assert.Nil(t, c.sock)
	assert.Nil(t, c.out)
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	c := openFake(t, &fakeDialer{sock: sock})
	require.NoError(t, c.Enqueue([]byte("req")))
	_, err := c.Poll()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, sock.closed)
	assert.ErrorIs(t, c.Enqueue([]byte("req")), ErrClosed)
}

func TestConn_LastRegisteredCallbackWins(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{err: io.EOF}}}
	c := openFake(t, &fakeDialer{sock: sock})

	first, second := 0, 0
	c.OnComplete(func([]byte) { first++ })
	c.OnComplete(func([]byte) { second++ })

	require.NoError(t, c.Enqueue([]byte("req")))
	_, err := pollUntilIdle(t, c, 10)
	require.NoError(t, err)
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "receiving", StateReceiving.String())
	assert.Equal(t, "state(42)", State(42).String())
}
