package unpanicked

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Run_Recovers_And_Logs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ok := Run(logger, "exploding task", func() { panic("kaboom") })
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "exploding task")
	assert.Contains(t, buf.String(), "kaboom")

	assert.True(t, Run(logger, "quiet task", func() {}))
}
