package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, Low, Level(0))
	assert.Equal(t, High, Level(1))
	assert.Equal(t, High, Level(-3))
}

func TestEdge(t *testing.T) {
	assert.Equal(t, RisingEdge, Low.Edge(High))
	assert.Equal(t, FallingEdge, High.Edge(Low))
	assert.Equal(t, EventType(0), High.Edge(High))
	assert.Equal(t, EventType(0), Low.Edge(Low))
	assert.Equal(t, RisingEdge, Invalid.Edge(High))
}

func TestLines(t *testing.T) {
	var a, b []StateType

	lines := Lines{
		LineFunc(func(l StateType) { a = append(a, l) }),
		LineFunc(func(l StateType) { b = append(b, l) }),
	}
	lines.Set(High)
	lines.Set(Low)

	assert.Equal(t, []StateType{High, Low}, a)
	assert.Equal(t, []StateType{High, Low}, b)
}
