package cache

import "time"

// Freshness 是 Policy 对一份记录的判定结果。
type Freshness int

const (
	// Missing 表示没有可用记录（不存在或已损坏）。
	Missing Freshness = iota
	// Stale 表示记录已过期，需要后台刷新。
	Stale
	// Fresh 表示记录仍在有效期内。
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Missing:
		return "missing"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// minExpiry 保证新写入的 expireAt 严格晚于写入时刻，即使检查间隔为 0。
const minExpiry = time.Millisecond

// Policy 注入检查间隔与时钟，提供过期判定与新记录的过期时间计算。
type Policy struct {
	interval time.Duration
	now      func() time.Time
}

// NewPolicy 构造过期策略，默认使用 time.Now 作为时钟；负间隔按 0 处理。
func NewPolicy(interval time.Duration) Policy {
	if interval < 0 {
		interval = 0
	}
	return Policy{
		interval: interval,
		now:      time.Now,
	}
}

// WithClock 返回使用指定时钟的副本，便于测试固定时间。
func (p Policy) WithClock(now func() time.Time) Policy {
	if now != nil {
		p.now = now
	}
	return p
}

// Interval 返回策略的检查间隔。
func (p Policy) Interval() time.Duration {
	return p.interval
}

// Decide 根据当前时钟判定记录状态。
func (p Policy) Decide(record *UpdateRecord) Freshness {
	return Decide(record, p.now())
}

// NextExpiry 返回此刻写入的新记录应携带的 expireAt（Unix 毫秒）。
func (p Policy) NextExpiry() int64 {
	return ExpireAt(p.now(), p.interval)
}

// Decide 是纯函数：无记录为 Missing，expireAt <= now 为 Stale，否则 Fresh。
func Decide(record *UpdateRecord, now time.Time) Freshness {
	if record == nil {
		return Missing
	}
	if record.ExpireAt <= now.UnixMilli() {
		return Stale
	}
	return Fresh
}

// ExpireAt 计算 now + interval，并保证结果至少比 now 晚 1ms。
func ExpireAt(now time.Time, interval time.Duration) int64 {
	if interval < minExpiry {
		interval = minExpiry
	}
	return now.Add(interval).UnixMilli()
}
