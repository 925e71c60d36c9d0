package server

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/replinet/internal/protocol"
)

var ErrIdleTimeout = errors.New("server: idle timeout")

// Reaper picks connections with no readiness activity for longer than its
// timeout. Closing them is left to the caller.
type Reaper struct {
	timeout time.Duration
}

func NewReaper(timeout time.Duration) *Reaper {
	return &Reaper{timeout: timeout}
}

func (r *Reaper) Expired(now time.Time, clients map[int]*Client) []*Client {
	if r == nil || r.timeout <= 0 {
		return nil
	}
	var out []*Client
	for _, c := range clients {
		if now.Sub(c.LastActive()) > r.timeout {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *Client) int {
		return a.Fd() - b.Fd()
	})
	return out
}

func closeReason(err error) string {
	if errors.Is(err, ErrIdleTimeout) {
		return "idle"
	}
	return protocol.Reason(err)
}

func sortConnInfo(infos []ConnInfo) {
	slices.SortFunc(infos, func(a, b ConnInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
