package gorm

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

// DuplicateKeyClassifier reports whether err is a unique constraint violation of one driver.
type DuplicateKeyClassifier func(err error) bool

var (
	classifiers   []DuplicateKeyClassifier
	classifiersMu sync.RWMutex
)

// RegisterDuplicateKeyClassifier adds a driver specific classifier. Dialect packages call it from init.
func RegisterDuplicateKeyClassifier(c DuplicateKeyClassifier) {
	classifiersMu.Lock()
	defer classifiersMu.Unlock()
	classifiers = append(classifiers, c)
}

// IsDuplicateKeyError reports whether err is a unique constraint violation of any registered driver.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	classifiersMu.RLock()
	defer classifiersMu.RUnlock()
	for _, c := range classifiers {
		if c(err) {
			return true
		}
	}
	return false
}
