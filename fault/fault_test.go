package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge-rpc/message"
	"bridge-rpc/protocol"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindInvalidUsage, "class %q not found", "no.such.Class")

	assert.True(t, errors.Is(err, ErrInvalidUsage))
	assert.False(t, errors.Is(err, ErrBrokenConnection))
	assert.Contains(t, err.Error(), `class "no.such.Class" not found`)

	wrapped := fmt.Errorf("instanceOf: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidUsage))
}

func TestWrapKeepsUnderlying(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindBrokenConnection, "x"))

	err := Wrap(io.EOF, KindBrokenConnection, "transport failure")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, err, ErrBrokenConnection)
	assert.Contains(t, err.Error(), "EOF")
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, Translate(nil))

	lost := Translate(protocol.ErrConnectionLost)
	assert.True(t, IsBrokenConnection(lost))
	assert.ErrorIs(t, lost, protocol.ErrConnectionLost)

	assert.True(t, IsBrokenConnection(Translate(errors.New("read tcp: connection reset by peer"))))

	usage := New(KindInvalidUsage, "stale reference")
	assert.Same(t, usage, Translate(usage))

	assert.ErrorIs(t, Translate(context.Canceled), context.Canceled)
	assert.False(t, IsBrokenConnection(Translate(context.Canceled)))
}

func TestFromRemote(t *testing.T) {
	assert.Nil(t, FromRemote(nil))

	remote := FromRemote(&message.Fault{
		Kind:       message.FaultException,
		Class:      "java.lang.ArithmeticException",
		Message:    "BigInteger divide by zero",
		Cause:      "java.lang.ArithmeticException",
		StackTrace: "at java.math.BigInteger.divide",
	})
	assert.ErrorIs(t, remote, ErrRemote)
	assert.Equal(t, "java.lang.ArithmeticException", remote.RemoteClass)
	assert.Equal(t, "at java.math.BigInteger.divide", remote.StackTrace)
	assert.Contains(t, remote.Error(), "[java.lang.ArithmeticException]")

	assert.ErrorIs(t, FromRemote(&message.Fault{Kind: message.FaultUsage}), ErrInvalidUsage)
	assert.True(t, IsBrokenConnection(FromRemote(&message.Fault{Kind: message.FaultBroken})))
}
