package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatSeconds arredonda para cima: Retry-After nunca pode mandar o cliente voltar cedo demais.
func formatSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return strconv.Itoa(secs)
}

func formatUnix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
