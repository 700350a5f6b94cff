package fetch

import (
	"errors"
	"fmt"
)

// Таксономия сбоев загрузки. Релей сам никогда не ретраит эти ошибки —
// повтор возможен только по явному действию пользователя.
var (
	// ErrTimeout — исходящий запрос не уложился в жесткий таймаут и был оборван.
	ErrTimeout = errors.New("upstream fetch timed out")

	// ErrNetwork — любой прочий транспортный сбой (DNS, TLS, connection reset).
	ErrNetwork = errors.New("upstream network error")
)

// UpstreamError — источник ответил, но статусом вне 2xx.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}
