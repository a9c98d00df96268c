package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s ", ve.Reason)
}

var (
	ErrNoCacheItem = errors.New("no value found in cache")
	ErrNoSuchCache = errors.New("no cache generation with that name")
)
