package lending

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(notFoundf("loan %d", 7)))
	assert.Equal(t, KindConflict, KindOf(conflictf("no copies")))
	assert.Equal(t, KindUnauthorized, KindOf(unauthorizedf("nope")))
	assert.Equal(t, KindValidation, KindOf(validationf("bad input")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("handler: %w", conflictf("no copies"))
	assert.Equal(t, KindConflict, KindOf(wrapped))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := internal("loan insert", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "loan insert")
}
