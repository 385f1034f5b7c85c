package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
)

// TestStructJSONTags pins the json tags of the result types. Callers parse
// the fill output, so the names are a contract.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "RunResult",
			structRef: schemas.RunResult{},
			expectedTags: map[string]string{
				"RunID":        "runId",
				"Success":      "success",
				"FilledFields": "filledFields",
				"Errors":       "errors",
				"Skipped":      "skipped,omitempty",
				"Steps":        "steps",
				"StartedAt":    "startedAt",
				"Duration":     "duration",
			},
		},
		{
			name:      "FieldError",
			structRef: schemas.FieldError{},
			expectedTags: map[string]string{
				"Key":     "key",
				"Kind":    "kind",
				"Message": "message",
			},
		},
		{
			name:      "SkippedField",
			structRef: schemas.SkippedField{},
			expectedTags: map[string]string{
				"Key":    "key",
				"Reason": "reason",
			},
		},
		{
			name:      "RunStatus",
			structRef: schemas.RunStatus{},
			expectedTags: map[string]string{
				"RunID":     "runId",
				"State":     "state",
				"Total":     "total",
				"Processed": "processed",
				"Filled":    "filled",
				"Failed":    "failed",
				"Skipped":   "skipped",
				"Step":      "step",
				"Elapsed":   "elapsed",
			},
		},
		{
			name:      "RunRecord",
			structRef: schemas.RunRecord{},
			expectedTags: map[string]string{
				"RunID":     "runId",
				"PageURL":   "pageUrl",
				"Success":   "success",
				"Filled":    "filled",
				"Failed":    "failed",
				"Skipped":   "skipped",
				"Steps":     "steps",
				"StartedAt": "startedAt",
				"Duration":  "duration",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)
			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if jsonTag := field.Tag.Get("json"); jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}
