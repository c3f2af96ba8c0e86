// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectrogram/internal/classifier"
	"spectrogram/pkg/utils"
)

type failingTransport struct{ err error }

func (f failingTransport) Send(any) error { return f.err }
func (f failingTransport) Close() error   { return nil }

func TestBroadcast(t *testing.T) {
	a, b := &utils.MockTransport{}, &utils.MockTransport{}
	boom := errors.New("boom")

	err := Broadcast([]Transport{a, failingTransport{boom}, b, failingTransport{errors.New("later")}}, "hello")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []any{"hello"}, a.Sent)
	assert.Equal(t, []any{"hello"}, b.Sent)

	assert.NoError(t, Broadcast(nil, "nothing"))
}

func TestInferenceMessageJSON(t *testing.T) {
	msg := NewInferenceMessage(42, []classifier.Recognition{{Label: "dog", Confidence: 0.75}})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"inference","frame":42,"results":[{"label":"dog","confidence":0.75}]}`, string(raw))
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	assert.NoError(t, lt.Send(FrameMessage{Type: TypeFrame}))
	assert.NoError(t, lt.Send(make(chan int)))
	assert.NoError(t, lt.Close())
}
