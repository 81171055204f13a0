package fetch

import "sync/atomic"

// defaultUserAgents is the fallback pool when the configuration supplies
// none. Desktop browser strings are what the crawled sites expect.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// uaPool rotates round-robin through a User-Agent pool.
type uaPool struct {
	agents []string
	next32 atomic.Uint32
}

func newUAPool(agents []string) *uaPool {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &uaPool{agents: agents}
}

func (p *uaPool) next() string {
	n := p.next32.Add(1) - 1
	return p.agents[int(n)%len(p.agents)]
}
