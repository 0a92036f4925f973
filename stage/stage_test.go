package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vitalscan/scan-common/envutil"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  Stage
	}{
		{value: "prod", want: Prod},
		{value: " Staging ", want: Staging},
		{value: "local", want: Local},
		{value: "qa", want: Test},
		{value: "unknown", want: Test},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Parallel()

			ctx := envutil.WithEnvOverride(t.Context(), "RUNNING_ENV", tc.value)

			assert.Equal(t, tc.want, Detect(ctx))
		})
	}
}
