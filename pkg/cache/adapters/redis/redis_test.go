package redis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/corebroker/messaging-runtime/pkg/errors"
)

func TestClassifyNilIsNotFound(t *testing.T) {
	err := classify(goredis.Nil)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestClassifyOtherErrorIsUnavailable(t *testing.T) {
	err := classify(errors.New("connection reset"))
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.CodeOf(err))
}

func TestClassifyNilInputIsNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestEncodeDecodeStringPassthrough(t *testing.T) {
	data, err := encode("hello")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	var got string
	assert.NoError(t, decode(data, &got))
	assert.Equal(t, "hello", got)
}

func TestEncodeDecodeStruct(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	data, err := encode(payload{Name: "x"})
	assert.NoError(t, err)

	var got payload
	assert.NoError(t, decode(data, &got))
	assert.Equal(t, "x", got.Name)
}
