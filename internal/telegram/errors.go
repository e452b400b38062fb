package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// Typed error kinds for the chat-client boundary. Telegram RPC failures are
// translated here so callers never have to string-match error text.
var (
	ErrNotFound         = errors.New("message not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotModified      = errors.New("message not modified")
	ErrUnauthorized     = errors.New("telegram client not authorized")
)

// FloodWaitError is a platform-issued backoff signal. The scheduler pauses
// dispatch for Seconds when a worker surfaces one.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: %d seconds", e.Seconds)
}

// AsFloodWait extracts the wait duration if err carries a flood-wait signal.
func AsFloodWait(err error) (int, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Seconds, true
	}
	return 0, false
}

// floodWaitSeconds parses the seconds out of a FLOOD_WAIT_N rpc error string.
// Returns 0 if err is not a flood wait.
func floodWaitSeconds(err error) int {
	if err == nil {
		return 0
	}
	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return 0
	}
	// format is usually "rpc error code 420: FLOOD_WAIT_15"
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) < 2 {
		return 0
	}
	var seconds int
	_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	return seconds
}

// translateRPC maps raw rpc errors onto the closed error taxonomy.
// Unrecognized errors pass through unchanged.
func translateRPC(err error) error {
	if err == nil {
		return nil
	}

	if secs := floodWaitSeconds(err); secs > 0 {
		return &FloodWaitError{Seconds: secs}
	}

	str := err.Error()
	switch {
	case strings.Contains(str, "MESSAGE_NOT_MODIFIED"):
		return fmt.Errorf("%w: %v", ErrNotModified, err)
	case strings.Contains(str, "MESSAGE_ID_INVALID"),
		strings.Contains(str, "MSG_ID_INVALID"),
		strings.Contains(str, "MESSAGE_IDS_EMPTY"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(str, "CHAT_WRITE_FORBIDDEN"),
		strings.Contains(str, "MESSAGE_AUTHOR_REQUIRED"),
		strings.Contains(str, "MESSAGE_EDIT_TIME_EXPIRED"),
		strings.Contains(str, "CHAT_ADMIN_REQUIRED"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(str, "AUTH_KEY_UNREGISTERED"),
		strings.Contains(str, "SESSION_REVOKED"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}
