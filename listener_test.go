package wu

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestListenerListen(t *testing.T) {
	l := newListener(New())
	assert.NoError(t, l.listen("127.0.0.1:0"))
	defer l.Close()

	assert.NotNil(t, l.Addr())
}

func TestListenerListenBadAddress(t *testing.T) {
	l := newListener(New())
	assert.Error(t, l.listen("999.999.999.999:0"))
}

func TestListenerAccept(t *testing.T) {
	l := newListener(New())
	assert.NoError(t, l.listen("127.0.0.1:0"))
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
		if err == nil {
			c.Close()
		}
	}()

	c, err := l.Accept()
	assert.NoError(t, err)
	assert.NotNil(t, c)
	c.Close()
	<-done
}

func TestListenerRebind(t *testing.T) {
	l1 := newListener(New())
	assert.NoError(t, l1.listen("127.0.0.1:0"))
	addr := l1.Addr().String()
	l1.Close()

	// SO_REUSEADDR lets a fresh listener take the port right back.
	l2 := newListener(New())
	assert.NoError(t, l2.listen(addr))
	l2.Close()
}
