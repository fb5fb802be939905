package entities

import "errors"

var ErrStoreEntityNotFound = errors.New("store resource not found")
var ErrSourceUnavailable = errors.New("source unavailable")
