package game

import (
	"math/rand"
	"sync"
	"time"
)

// Rand 生成饼干和昵称用到的随机源
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// lockedRand 并发安全的随机源
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand 创建并发安全的随机源，seed 为0时使用当前时间
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
