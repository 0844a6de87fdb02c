package mongo

import "errors"

// ErrConnectionFailed indicates the initial connection or ping failed.
var ErrConnectionFailed = errors.New("mongodb connection failed")
