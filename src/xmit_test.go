package wlantx

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceRadio(t *testing.T) {
	var inner = &FakeRadio{}
	var buf bytes.Buffer
	var tr, err = NewTraceRadio(inner, &buf, "", nil)
	require.NoError(t, err)

	var f = Frame{
		Payload: make([]byte, 1500),
		TID:     6,
		AC:      ACVO,
		Queue:   12,
		Station: 3,
		Retry:   true,
	}
	tr.Push(f)
	f.Station, f.Retry, f.TID, f.AC, f.Payload = NoStation, false, TIDMgmt, ACBE, []byte{1}
	tr.Push(f)

	assert.Equal(t, "[vo 3 q12 R] 1500 bytes tid6\n[be - q12] 1 bytes mgmt\n", buf.String())
	assert.Len(t, inner.Take(), 2)
}

func TestTraceRadio_Timestamp(t *testing.T) {
	var buf bytes.Buffer
	var tr, err = NewTraceRadio(&FakeRadio{}, &buf, "%H:%M:%S", func() time.Time { return epoch })
	require.NoError(t, err)

	tr.Push(Frame{Payload: []byte{1, 2}, AC: ACBK, Queue: 1, Station: 0, TID: 1})
	assert.Equal(t, "[bk 0 q1] 21:35:42 2 bytes tid1\n", buf.String())
}

func TestTraceRadio_BadFormat(t *testing.T) {
	var _, err = NewTraceRadio(&FakeRadio{}, &bytes.Buffer{}, "%", nil)
	assert.Error(t, err)
}
