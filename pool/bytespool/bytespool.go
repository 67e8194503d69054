package bytespool

import (
	"fmt"
	"sync"
)

// Size-classed []byte pools. Each class hands out slices whose capacity
// is the class boundary; Get reslices to the requested length.
var classes = [4]*class{
	{min: 1, max: 4096, step: 512},
	{min: 4097, max: 40960, step: 4096},
	{min: 40961, max: 417792, step: 16384},
	{min: 417793, max: 1925120, step: 65536},
}

func init() {
	for _, c := range classes {
		c.init()
	}
}

type class struct {
	min, max, step int
	pools          []sync.Pool
}

func (c *class) init() {
	n := (c.max - c.min + 1) / c.step
	c.pools = make([]sync.Pool, n)
	for i := 0; i < n; i++ {
		size := (c.min - 1) + (i+1)*c.step
		c.pools[i] = sync.Pool{New: func() any {
			return make([]byte, size)
		}}
	}
}

func (c *class) pos(size int) int {
	if size < c.min {
		panic(fmt.Sprintf("bytespool: pos size %d < min %d", size, c.min))
	}
	i := (size - c.min) / c.step
	if i >= len(c.pools) {
		panic(fmt.Sprintf("bytespool: pos size %d > max %d", size, c.max))
	}
	return i
}

func (c *class) get(size int) []byte {
	return c.pools[c.pos(size)].Get().([]byte)[:size]
}

func (c *class) put(b []byte) {
	c.pools[c.pos(cap(b))].Put(b)
}

// Get returns a slice of length size. Sizes beyond the largest class
// are allocated directly and Put becomes a no-op for them.
func Get(size int) []byte {
	for _, c := range classes {
		if size <= c.max {
			return c.get(size)
		}
	}
	return make([]byte, size)
}

func Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	for _, c := range classes {
		if cap(b) <= c.max {
			c.put(b)
			return
		}
	}
}
