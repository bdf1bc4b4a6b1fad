package redis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/swrcache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

const defaultChannel = "swrcache:changes"

// Redis stores documents as plain string keys and announces changes on a
// pub/sub channel as "<origin>|<key>", so every process sharing the
// database can reload what another one wrote.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	channel     string
	origin      string

	mu   sync.Mutex
	subs []*goredis.PubSub
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool   // set true only if this provider exclusively owns the client
	Channel     string // change channel; "" => "swrcache:changes"
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	ch := cfg.Channel
	if ch == "" {
		ch = defaultChannel
	}
	return &Redis{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		channel:     ch,
		origin:      uuid.NewString(),
	}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := p.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		if isOOM(err) {
			return errors.Join(pr.ErrQuotaExceeded, err)
		}
		return err
	}
	p.publish(ctx, key)
	return nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	n, err := p.rdb.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		p.publish(ctx, key)
	}
	return nil
}

// Keys walks the keyspace with SCAN so large databases are not blocked.
func (p *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := p.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Redis) Watch(ctx context.Context, fn func(key string)) (func(), error) {
	ps := p.rdb.Subscribe(ctx, p.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	p.mu.Lock()
	p.subs = append(p.subs, ps)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			origin, key, ok := parseChange(msg.Payload)
			if !ok || origin == p.origin {
				continue
			}
			fn(key)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, ps := range subs {
		_ = ps.Close()
	}
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// publish is best-effort; a lost notification only delays other processes.
func (p *Redis) publish(ctx context.Context, key string) {
	_ = p.rdb.Publish(ctx, p.channel, formatChange(p.origin, key)).Err()
}

func formatChange(origin, key string) string { return origin + "|" + key }

func parseChange(payload string) (origin, key string, ok bool) {
	origin, key, ok = strings.Cut(payload, "|")
	if !ok || origin == "" || key == "" {
		return "", "", false
	}
	return origin, key, true
}

func isOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM")
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globReplacer.Replace(s) }
