package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"compile matches", Tool(Compile, "compile", "clang-ocl a.cl", 1, nil), ErrCompile, true},
		{"compile is not link", Tool(Compile, "compile", "clang-ocl a.cl", 1, nil), ErrLink, false},
		{"wrapped driver", fmt.Errorf("build: %w", DriverStatus("load module", "/tmp/a.hsaco", 301, "hipErrorFileNotFound")), ErrDriver, true},
		{"not found", NotFoundf("source", "no kernel %q", "x.cl"), ErrNotFound, true},
		{"plain error", errors.New("boom"), ErrIO, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, IO, KindOf(fmt.Errorf("x: %w", E(IO, "write source", "/tmp/a", errors.New("disk full")))))
	assert.Equal(t, Other, KindOf(errors.New("boom")))
	assert.Equal(t, Other, KindOf(nil))
}

func TestUnwrapKeepsCause(t *testing.T) {
	err := Tool(Compile, "compile", "clang-ocl a.cl", -1, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrCompile)
}

func TestErrorString(t *testing.T) {
	err := Tool(Link, "finalize", "amdhsafin -target=8:0:3", 2, nil)
	assert.Equal(t, "finalize: link error (exit 2): amdhsafin -target=8:0:3", err.Error())

	derr := DriverStatus("load module", "/tmp/k.hsaco", 200, "hipErrorInvalidImage")
	assert.Equal(t, "load module: driver error 200 (hipErrorInvalidImage): /tmp/k.hsaco", derr.Error())
}
