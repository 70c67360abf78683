package powerdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyOrder(t *testing.T) {
	p := New()
	var got []string

	p.Subscribe(func() { got = append(got, "a") })
	p.Subscribe(func() { got = append(got, "b") })

	p.Notify()
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, p.Count())
}

func TestUnsubscribe(t *testing.T) {
	p := New()
	n := 0

	id := p.Subscribe(func() { n++ })
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Unsubscribe(id))
	assert.False(t, p.Unsubscribe(id))
	assert.Zero(t, p.Len())

	p.Notify()
	assert.Zero(t, n)
}

func TestUnsubscribeFromCallback(t *testing.T) {
	p := New()
	n := 0

	var id ID
	id = p.Subscribe(func() {
		n++
		p.Unsubscribe(id)
	})
	p.Subscribe(func() { n++ })

	p.Notify()
	assert.Equal(t, 2, n)

	p.Notify()
	assert.Equal(t, 3, n)
}
