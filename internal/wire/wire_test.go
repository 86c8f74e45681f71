package wire

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utkarsh5026/goloky/internal/ipc"
)

func TestChannel_Conversation(t *testing.T) {
	a, b, err := ipc.Pipe(true)
	require.NoError(t, err)

	executor, worker := NewChannel(a), NewChannel(b)
	defer executor.Close()

	require.NoError(t, worker.Send(&Message{Kind: KindReady, PID: 4242}))
	msg, err := executor.Recv()
	require.NoError(t, err)
	assert.Equal(t, KindReady, msg.Kind)
	assert.Equal(t, 4242, msg.PID)

	task := &Message{
		Kind:     KindTask,
		TaskID:   7,
		Func:     "square",
		Codec:    "json",
		Payloads: [][]byte{[]byte("2"), []byte("3")},
	}
	require.NoError(t, executor.Send(task))
	got, err := worker.Recv()
	require.NoError(t, err)
	assert.Equal(t, task, got)

	result := &Message{
		Kind:   KindResult,
		TaskID: 7,
		Outcomes: []Outcome{
			{Value: []byte("4")},
			{Err: &RemoteError{Type: "*errors.errorString", Message: "odd"}},
		},
	}
	require.NoError(t, worker.Send(result))
	got, err = executor.Recv()
	require.NoError(t, err)
	assert.Equal(t, result, got)

	require.NoError(t, worker.Close())
	_, err = executor.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRemoteError(t *testing.T) {
	assert.Nil(t, NewRemoteError(nil, nil))

	re := NewRemoteError(errors.New("bad input"), []byte("main.go:1\n"))
	assert.Equal(t, "*errors.errorString", re.Type)
	assert.Equal(t, "*errors.errorString: bad input", re.Error())
	assert.Equal(t, re.Error(), fmt.Sprintf("%v", re))
	assert.Contains(t, fmt.Sprintf("%+v", re), "remote stack:\nmain.go:1")

	bare := &RemoteError{Message: "plain"}
	assert.Equal(t, "plain", bare.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "task", KindTask.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
