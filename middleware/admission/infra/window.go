package infra

import (
	"strconv"
	"time"
)

// FixedWindowBounds devolve [start, end) da janela alinhada à epoch que contém now.
func FixedWindowBounds(now time.Time, window time.Duration) (start, end time.Time) {
	w := window.Nanoseconds()
	idx := now.UnixNano() / w
	start = time.Unix(0, idx*w)
	return start, start.Add(window)
}

func fixedKey(key string, now time.Time, window time.Duration) string {
	return key + ":" + strconv.FormatInt(now.UnixNano()/window.Nanoseconds(), 10)
}
