// Package netpool holds the static proxy and user-agent pools sampled per
// request. Both lists ship with the binary and are immutable after load, so
// random sampling needs no locking.
package netpool

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

//go:embed proxies.csv
var proxiesCSV []byte

//go:embed useragents.csv
var userAgentsCSV []byte

// Proxy is one entry of the rotation pool. A zero Proxy means a direct
// connection.
type Proxy struct {
	Scheme string
	Host   string // ip:port
}

// IsZero reports whether the proxy is the direct-connection sentinel.
func (p Proxy) IsZero() bool {
	return p.Host == ""
}

// URL returns the proxy URL, or nil for a direct connection.
func (p Proxy) URL() *url.URL {
	if p.IsZero() {
		return nil
	}
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: p.Host}
}

// Pools bundles the proxy and user-agent lists.
type Pools struct {
	proxies []Proxy
	agents  []string
}

// New builds pools from explicit lists. Tests use this to force direct
// connections and a fixed user agent.
func New(proxies []Proxy, agents []string) *Pools {
	return &Pools{proxies: proxies, agents: agents}
}

// Load parses the embedded proxy and user-agent CSVs.
func Load() (*Pools, error) {
	proxies, err := parseProxies(bytes.NewReader(proxiesCSV))
	if err != nil {
		return nil, eris.Wrap(err, "netpool: parse proxies")
	}
	agents, err := parseUserAgents(bytes.NewReader(userAgentsCSV))
	if err != nil {
		return nil, eris.Wrap(err, "netpool: parse user agents")
	}
	if len(agents) == 0 {
		return nil, eris.New("netpool: empty user-agent pool")
	}
	return &Pools{proxies: proxies, agents: agents}, nil
}

// Proxy returns a uniformly random proxy, or the direct-connection sentinel
// when the pool is empty.
func (p *Pools) Proxy() Proxy {
	if len(p.proxies) == 0 {
		return Proxy{}
	}
	return p.proxies[rand.Intn(len(p.proxies))]
}

// UserAgent returns a uniformly random user-agent string.
func (p *Pools) UserAgent() string {
	if len(p.agents) == 0 {
		return ""
	}
	return p.agents[rand.Intn(len(p.agents))]
}

// ProxyCount returns the number of proxies in the pool.
func (p *Pools) ProxyCount() int {
	return len(p.proxies)
}

// parseProxies reads the ip,port,protocols table. Rows with unusable fields
// are skipped rather than failing the load.
func parseProxies(r io.Reader) ([]Proxy, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	ipCol, ok1 := idx["ip"]
	portCol, ok2 := idx["port"]
	protoCol, ok3 := idx["protocols"]
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("missing ip/port/protocols columns, got %v", header)
	}

	var proxies []Proxy
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) <= ipCol || len(rec) <= portCol || len(rec) <= protoCol {
			continue
		}
		ip := strings.TrimSpace(rec[ipCol])
		port := strings.TrimSpace(rec[portCol])
		proto := strings.TrimSpace(rec[protoCol])
		if ip == "" || port == "" {
			continue
		}
		// Rows may list several protocols ("http,socks4"); the first wins.
		if i := strings.IndexAny(proto, ", "); i >= 0 {
			proto = proto[:i]
		}
		proxies = append(proxies, Proxy{Scheme: proto, Host: ip + ":" + port})
	}
	return proxies, nil
}

// parseUserAgents reads one user-agent string per line.
func parseUserAgents(r io.Reader) ([]string, error) {
	var agents []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			agents = append(agents, line)
		}
	}
	return agents, sc.Err()
}
