package telegram

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateRPC_FloodWait(t *testing.T) {
	err := translateRPC(fmt.Errorf("rpc error code 420: FLOOD_WAIT_15"))

	secs, ok := AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 15, secs)
}

func TestTranslateRPC_FloodWaitWithSuffix(t *testing.T) {
	err := translateRPC(fmt.Errorf("FLOOD_WAIT_7 (caused by messages.editMessage)"))

	secs, ok := AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 7, secs)
}

func TestTranslateRPC_ErrorKinds(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{"rpc error code 400: MESSAGE_ID_INVALID", ErrNotFound},
		{"rpc error code 400: MSG_ID_INVALID", ErrNotFound},
		{"rpc error code 400: MESSAGE_NOT_MODIFIED", ErrNotModified},
		{"rpc error code 403: CHAT_WRITE_FORBIDDEN", ErrPermissionDenied},
		{"rpc error code 400: MESSAGE_EDIT_TIME_EXPIRED", ErrPermissionDenied},
		{"rpc error code 401: AUTH_KEY_UNREGISTERED", ErrUnauthorized},
	}

	for _, tc := range cases {
		got := translateRPC(errors.New(tc.raw))
		assert.ErrorIs(t, got, tc.want, tc.raw)
	}
}

func TestTranslateRPC_PassThrough(t *testing.T) {
	raw := errors.New("connection reset by peer")
	assert.Equal(t, raw, translateRPC(raw))
	assert.Nil(t, translateRPC(nil))
}

func TestAsFloodWait_NotFlood(t *testing.T) {
	_, ok := AsFloodWait(errors.New("some other error"))
	assert.False(t, ok)
}
