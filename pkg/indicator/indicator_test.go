package indicator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	_ Indicator = Nop{}
	_ Indicator = &Fake{}
	_ Indicator = &LED{}
)

func TestFake(t *testing.T) {
	f := &Fake{}
	assert.False(t, f.On())

	assert.NoError(t, f.Set(true))
	assert.True(t, f.On())
	assert.NoError(t, f.Set(false))
	assert.False(t, f.On())
	assert.Equal(t, []bool{true, false}, f.States)

	f.SetErr = errors.New("line busy")
	assert.Error(t, f.Set(true))

	assert.NoError(t, f.Close())
	assert.True(t, f.Closed)
}

func TestNop(t *testing.T) {
	var n Nop
	assert.NoError(t, n.Set(true))
	assert.NoError(t, n.Close())
}
