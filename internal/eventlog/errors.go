package eventlog

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// PermanentError ends a tailer. Retrying will not help: the stream key
// has the wrong type, credentials were rejected and so on.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent log failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

var permanentPrefixes = []string{
	"WRONGTYPE",
	"NOAUTH",
	"WRONGPASS",
	"NOPERM",
	"ERR Invalid stream ID",
	"ERR unknown command",
}

// IsPermanent classifies a log error. Network errors, timeouts and
// server-side LOADING/TRYAGAIN replies are transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	msg := rerr.Error()
	for _, p := range permanentPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
