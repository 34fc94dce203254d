// Package logging provides recording-scoped structured logging, adapted
// from the teacher's request-scoped log package (go-kit/log backed by a
// patrickmn/go-cache TTL map of loggers). Here the cache key is the
// (user_id, recording_id) pair rather than a single request ID, since a
// recording's pipeline spans many asynchronous steps across goroutines and
// worker processes rather than a single HTTP request.
package logging

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	gocache "github.com/patrickmn/go-cache"
)

var loggerCache = gocache.New(6*time.Hour, 10*time.Minute)

const defaultExpiry = 6 * time.Hour

// Key identifies the scope a logger's context is attached to.
type Key struct {
	UserID      string
	RecordingID string
}

func (k Key) cacheKey() string {
	return k.UserID + "/" + k.RecordingID
}

// AddContext permanently attaches keyvals to the logger for this scope.
func AddContext(key Key, keyvals ...interface{}) {
	logger := kitlog.With(getLogger(key), redact(keyvals)...)
	loggerCache.Set(key.cacheKey(), logger, defaultExpiry)
}

// Log emits one structured log line scoped to key.
func Log(key Key, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(key), "msg", message).Log(redact(keyvals)...)
}

// LogError emits an error-annotated log line scoped to key.
func LogError(key Key, message string, err error, keyvals ...interface{}) {
	l := kitlog.With(getLogger(key), "msg", message, "err", err.Error())
	_ = l.Log(redact(keyvals)...)
}

// LogNoScope logs without any recording/user context; use sparingly, with
// as much detail inlined in the message as possible.
func LogNoScope(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redact(keyvals)...)
}

func getLogger(key Key) kitlog.Logger {
	if v, ok := loggerCache.Get(key.cacheKey()); ok {
		return v.(kitlog.Logger)
	}
	l := kitlog.With(newLogger(), "user_id", key.UserID, "recording_id", key.RecordingID)
	loggerCache.SetDefault(key.cacheKey(), l)
	return l
}

func newLogger() kitlog.Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	return kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)
}

// redact walks keyvals pairwise and redacts any string/*url.URL value that
// looks like it carries a signed download/upload URL, matching the
// teacher's log.redactKeyvals.
func redact(keyvals []interface{}) []interface{} {
	res := make([]interface{}, 0, len(keyvals))
	for i := 0; i < len(keyvals)-1; i += 2 {
		k, v := keyvals[i], keyvals[i+1]
		res = append(res, k)
		switch s := v.(type) {
		case string:
			res = append(res, RedactURL(s))
		case *url.URL:
			if s != nil {
				res = append(res, s.Redacted())
			} else {
				res = append(res, v)
			}
		default:
			res = append(res, v)
		}
	}
	return res
}

// RedactURL strips userinfo/credentials from strings that parse as URLs,
// leaving anything else untouched.
func RedactURL(s string) string {
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http") && !strings.HasPrefix(lower, "s3") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}

// Scope is a convenience constructor for Key.
func Scope(userID, recordingID fmt.Stringer) Key {
	return Key{UserID: userID.String(), RecordingID: recordingID.String()}
}
