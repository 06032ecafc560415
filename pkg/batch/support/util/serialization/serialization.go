// Package serialization renders job parameters for logs and persistence with sensitive keys masked.
package serialization

import (
	"encoding/json"
	"sync"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// MaskedValue replaces the value of a masked key.
const MaskedValue = "********"

var (
	maskMu     sync.RWMutex
	maskedKeys = map[string]struct{}{}
)

// SetMaskedParameterKeys replaces the set of keys whose values are hidden in rendered output.
func SetMaskedParameterKeys(keys []string) {
	maskMu.Lock()
	defer maskMu.Unlock()
	maskedKeys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		maskedKeys[k] = struct{}{}
	}
}

// IsMasked reports whether key is configured as sensitive.
func IsMasked(key string) bool {
	maskMu.RLock()
	defer maskMu.RUnlock()
	_, ok := maskedKeys[key]
	return ok
}

// GetMaskedJobParametersMap returns a copy of params with sensitive values masked.
func GetMaskedJobParametersMap(params map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		if IsMasked(k) {
			masked[k] = MaskedValue
			continue
		}
		masked[k] = v
	}
	return masked
}

// MarshalMaskedJSON renders params as JSON with sensitive values masked.
func MarshalMaskedJSON(params map[string]interface{}) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(GetMaskedJobParametersMap(params))
	if err != nil {
		return nil, exception.NewBatchError("serialization", "Failed to serialize JobParameters", err, false, false)
	}
	return data, nil
}
