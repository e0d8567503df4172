package retry

import (
	"net/http"
	"sync"
)

// PartitionKeyFunc maps a request to the name of the retry partition whose
// token bucket it draws from.
type PartitionKeyFunc func(req *http.Request) string

// Partitions shares token buckets between calls that target the same
// partition. Buckets are created on first use.
type Partitions struct {
	mu      sync.RWMutex
	buckets map[string]TokenBucket
	keyFunc PartitionKeyFunc
	factory func(partition string) TokenBucket
}

// NewPartitions returns a registry that names partitions with keyFunc and
// builds buckets with factory. A nil keyFunc puts every request into the
// "default" partition; a nil factory builds standard buckets.
func NewPartitions(keyFunc PartitionKeyFunc, factory func(partition string) TokenBucket) *Partitions {
	if factory == nil {
		factory = func(string) TokenBucket { return NewStandardBucket() }
	}
	return &Partitions{
		buckets: make(map[string]TokenBucket),
		keyFunc: keyFunc,
		factory: factory,
	}
}

// Register installs bucket for partition, replacing any existing one.
func (p *Partitions) Register(partition string, bucket TokenBucket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[partition] = bucket
}

// Key returns the partition name for req.
func (p *Partitions) Key(req *http.Request) string {
	if p.keyFunc == nil || req == nil {
		return "default"
	}
	return p.keyFunc(req)
}

// Bucket returns the bucket for req and the partition it belongs to.
func (p *Partitions) Bucket(req *http.Request) (TokenBucket, string) {
	key := p.Key(req)

	p.mu.RLock()
	bucket, ok := p.buckets[key]
	p.mu.RUnlock()
	if ok {
		return bucket, key
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if bucket, ok = p.buckets[key]; ok {
		return bucket, key
	}
	bucket = p.factory(key)
	p.buckets[key] = bucket
	return bucket, key
}

// Snapshot returns the available capacity of every partition.
func (p *Partitions) Snapshot() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.buckets))
	for k, b := range p.buckets {
		out[k] = b.Available()
	}
	return out
}

// StaticPartition puts every request into the partition called name.
func StaticPartition(name string) PartitionKeyFunc {
	return func(*http.Request) string { return name }
}

// HostPartition names the partition after the request host.
func HostPartition(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return "host:" + req.URL.Host
	}
	if req.Host != "" {
		return "host:" + req.Host
	}
	return "host:unknown"
}

// HostRoutePartition names the partition after host, method and path.
func HostRoutePartition(req *http.Request) string {
	host := ""
	if req.URL != nil {
		host = req.URL.Host
	}
	if host == "" {
		host = req.Host
	}
	if host == "" {
		host = "unknown"
	}
	path := ""
	if req.URL != nil {
		path = req.URL.Path
	}
	return "host_route:" + host + ":" + req.Method + ":" + path
}
